package devledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/basely/portal/internal/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var (
	// ErrInvalidText is returned for empty or over-long message text.
	ErrInvalidText = errors.New("invalid message text")

	// ErrBadSignature is returned when a write's signature does not recover
	// to its claimed sender.
	ErrBadSignature = errors.New("signature does not match sender")

	// ErrTxNotFound is returned for unknown transaction ids.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrStaleNonce is returned for a post whose nonce was already used by
	// its sender or lies outside NonceWindow.
	ErrStaleNonce = errors.New("stale post nonce")
)

// NonceWindow bounds how far a post nonce may be from the ledger's clock.
// The per-sender high-water mark is kept in memory, so after a restart only
// the window limits replays.
const NonceWindow = 5 * time.Minute

// Config describes the chain the dev ledger pretends to be.
type Config struct {
	ChainID   uint64        `mapstructure:"chain_id"`
	Name      string        `mapstructure:"name"`
	BlockTime time.Duration `mapstructure:"block_time"` // zero executes writes on submission
}

const (
	kindPost = "post"
	kindLike = "like"
)

type pendingTx struct {
	id     common.Hash
	kind   string
	from   common.Address
	text   string
	index  uint64
	status *ledger.TxStatus
}

// Service applies the ledger rules on top of a Store.
type Service struct {
	cfg    Config
	store  Store
	hub    *Hub
	logger *zap.Logger

	mu      sync.Mutex
	head    common.Hash
	txs     map[common.Hash]*ledger.TxStatus
	pending []*pendingTx
	nonces  map[common.Address]uint64 // highest accepted post nonce per sender
}

// NewService creates a Service. hub may be nil when no one listens.
func NewService(cfg Config, store Store, hub *Hub, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		logger: logger,
		txs:    make(map[common.Hash]*ledger.TxStatus),
		nonces: make(map[common.Address]uint64),
	}
}

// Chain returns the chain descriptor.
func (s *Service) Chain() ledger.ChainInfo {
	return ledger.ChainInfo{ChainID: s.cfg.ChainID, Name: s.cfg.Name}
}

// Total returns the number of messages.
func (s *Service) Total(ctx context.Context) (uint64, error) {
	return s.store.Total(ctx)
}

// Messages returns up to count messages starting at offset.
func (s *Service) Messages(ctx context.Context, offset, count uint64) ([]ledger.Message, error) {
	return s.store.Messages(ctx, offset, count)
}

// SubmitPost queues a post. Text and signature are checked up front.
func (s *Service) SubmitPost(ctx context.Context, req ledger.PostRequest) (ledger.TxStatus, error) {
	if err := validateText(req.Text); err != nil {
		return ledger.TxStatus{}, err
	}
	sig, err := s.verify(ledger.PostPayload(s.cfg.ChainID, req.Nonce, req.Text), req.Signature, req.Sender)
	if err != nil {
		return ledger.TxStatus{}, err
	}
	if err := s.useNonce(req.Sender, req.Nonce, time.Now()); err != nil {
		return ledger.TxStatus{}, err
	}
	return s.enqueue(ctx, &pendingTx{kind: kindPost, from: req.Sender, text: req.Text}, sig), nil
}

// useNonce records nonce for sender if it is inside the window and above
// the sender's last accepted nonce.
func (s *Service) useNonce(sender common.Address, nonce uint64, now time.Time) error {
	at := time.UnixMilli(int64(nonce))
	if nonce > math.MaxInt64 || at.Before(now.Add(-NonceWindow)) || at.After(now.Add(NonceWindow)) {
		return fmt.Errorf("%w: %d is outside the %s window", ErrStaleNonce, nonce, NonceWindow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := s.nonces[sender]; nonce <= last {
		return fmt.Errorf("%w: %d, last accepted %d", ErrStaleNonce, nonce, last)
	}
	s.nonces[sender] = nonce
	return nil
}

// SubmitLike queues a like. Whether the like is allowed is decided when the
// transaction executes.
func (s *Service) SubmitLike(ctx context.Context, index uint64, req ledger.LikeRequest) (ledger.TxStatus, error) {
	sig, err := s.verify(ledger.LikePayload(s.cfg.ChainID, index), req.Signature, req.Liker)
	if err != nil {
		return ledger.TxStatus{}, err
	}
	return s.enqueue(ctx, &pendingTx{kind: kindLike, from: req.Liker, index: index}, sig), nil
}

// Tx returns the status of a transaction.
func (s *Service) Tx(id string) (ledger.TxStatus, error) {
	h := common.HexToHash(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.txs[h]
	if !ok {
		return ledger.TxStatus{}, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	return *st, nil
}

// Run mines pending transactions every BlockTime until ctx is cancelled.
// With a zero BlockTime it only waits for ctx.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.BlockTime <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.BlockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Mine(ctx)
		}
	}
}

// Mine executes every pending transaction in submission order and returns
// how many ran.
func (s *Service) Mine(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mineLocked(ctx)
}

func (s *Service) enqueue(ctx context.Context, p *pendingTx, sig []byte) ledger.TxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.id = txHash(s.head, p, sig)
	s.head = p.id
	p.status = &ledger.TxStatus{ID: p.id.Hex(), Status: ledger.TxPending}
	s.txs[p.id] = p.status
	s.pending = append(s.pending, p)
	RecordTx(p.kind, ledger.TxPending)

	if s.cfg.BlockTime <= 0 {
		s.mineLocked(ctx)
	}
	return *p.status
}

// mineLocked runs pending transactions. Events are broadcast while the lock
// is held so subscribers see them in execution order.
func (s *Service) mineLocked(ctx context.Context) int {
	n := len(s.pending)
	now := time.Now().Unix()
	for _, p := range s.pending {
		ev, err := s.execute(ctx, p, now)
		if err != nil {
			p.status.Status = ledger.TxReverted
			p.status.Error = err.Error()
			RecordTx(p.kind, ledger.TxReverted)
			s.logger.Info("tx reverted",
				zap.String("tx", p.status.ID),
				zap.String("kind", p.kind),
				zap.Error(err),
			)
			continue
		}
		p.status.Status = ledger.TxConfirmed
		RecordTx(p.kind, ledger.TxConfirmed)
		if s.hub != nil {
			s.hub.Broadcast(ev)
		}
	}
	s.pending = nil
	return n
}

func (s *Service) execute(ctx context.Context, p *pendingTx, now int64) (ledger.Event, error) {
	switch p.kind {
	case kindPost:
		idx, err := s.store.Append(ctx, p.from, p.text, now)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("message posted", zap.Uint64("index", idx), zap.String("sender", p.from.Hex()))
		return ledger.NewMessage{Sender: p.from, Text: p.text, Timestamp: now, Index: idx}, nil
	case kindLike:
		likes, err := s.store.Like(ctx, p.index, p.from)
		if err != nil {
			return nil, err
		}
		return ledger.MessageLiked{Liker: p.from, Index: p.index, Likes: likes}, nil
	}
	return nil, fmt.Errorf("unknown tx kind %q", p.kind)
}

func (s *Service) verify(payload []byte, sigHex string, claimed common.Address) ([]byte, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	addr, err := ledger.RecoverSigner(payload, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if addr != claimed {
		return nil, fmt.Errorf("%w: recovered %s", ErrBadSignature, addr.Hex())
	}
	return sig, nil
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if n := len(utf16.Encode([]rune(text))); n > ledger.MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrInvalidText, n, ledger.MaxTextLength)
	}
	return nil
}

// txHash chains each transaction id to the previous one.
func txHash(prev common.Hash, p *pendingTx, sig []byte) common.Hash {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], p.index)
	return crypto.Keccak256Hash(prev.Bytes(), []byte(p.kind), p.from.Bytes(), []byte(p.text), idx[:], sig)
}
