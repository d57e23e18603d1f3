package devledger

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/basely/portal/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the dev ledger over HTTP.
type Handler struct {
	svc    *Service
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, hub: hub, logger: logger}
}

// Register mounts the ledger routes on rg. writeMW, if any, run before the
// write endpoints only.
func (h *Handler) Register(rg *gin.RouterGroup, writeMW ...gin.HandlerFunc) {
	write := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writeMW...), fn)
	}
	rg.GET("/chain", h.Chain)
	rg.GET("/messages/total", h.Total)
	rg.GET("/messages", h.List)
	rg.POST("/messages", write(h.Post)...)
	rg.POST("/messages/:idx/like", write(h.Like)...)
	rg.GET("/tx/:id", h.Tx)
	rg.GET("/events", h.Events)
}

// Chain handles GET /chain.
func (h *Handler) Chain(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Chain())
}

// Total handles GET /messages/total.
func (h *Handler) Total(c *gin.Context) {
	n, err := h.svc.Total(c.Request.Context())
	if err != nil {
		h.logger.Error("count messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count messages"})
		return
	}
	c.JSON(http.StatusOK, ledger.TotalResponse{Total: n})
}

// List handles GET /messages?offset=&count=. A missing count reads to the end.
func (h *Handler) List(c *gin.Context) {
	offset, err := queryUint(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}
	count, err := queryUint(c, "count", math.MaxInt64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
		return
	}

	msgs, err := h.svc.Messages(c.Request.Context(), offset, count)
	if err != nil {
		h.logger.Error("read messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read messages"})
		return
	}
	c.JSON(http.StatusOK, ledger.MessagesResponse{Messages: msgs})
}

// Post handles POST /messages.
func (h *Handler) Post(c *gin.Context) {
	var req ledger.PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.svc.SubmitPost(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// Like handles POST /messages/:idx/like.
func (h *Handler) Like(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}
	var req ledger.LikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.svc.SubmitLike(c.Request.Context(), idx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// Tx handles GET /tx/:id.
func (h *Handler) Tx(c *gin.Context) {
	st, err := h.svc.Tx(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

// Events handles GET /events (websocket).
func (h *Handler) Events(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidText), errors.Is(err, ErrBadSignature), errors.Is(err, ErrStaleNonce):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("submit tx", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryUint(c *gin.Context, key string, def uint64) (uint64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}
