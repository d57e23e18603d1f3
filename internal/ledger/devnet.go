package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DevnetLedger is a client for the local development ledger (cmd/devledger).
type DevnetLedger struct {
	base         string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	chainID      uint64
	pollInterval time.Duration
	nonces       Nonces
	logger       *zap.Logger
}

// DevnetOption configures a DevnetLedger.
type DevnetOption func(*DevnetLedger)

// WithDevnetHTTPClient overrides the HTTP client.
func WithDevnetHTTPClient(hc *http.Client) DevnetOption {
	return func(l *DevnetLedger) { l.httpClient = hc }
}

// WithPollInterval sets how often Tx.Wait polls for confirmation.
func WithPollInterval(d time.Duration) DevnetOption {
	return func(l *DevnetLedger) { l.pollInterval = d }
}

// DialDevnet connects to the dev ledger at base (e.g. http://localhost:8545)
// and learns its chain id.
func DialDevnet(ctx context.Context, base string, logger *zap.Logger, opts ...DevnetOption) (*DevnetLedger, error) {
	l := &DevnetLedger{
		base:         strings.TrimRight(base, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		dialer:       websocket.DefaultDialer,
		pollInterval: 500 * time.Millisecond,
		logger:       logger,
	}
	for _, o := range opts {
		o(l)
	}

	var info ChainInfo
	if err := l.getJSON(ctx, "/api/v1/chain", &info); err != nil {
		return nil, fmt.Errorf("dial dev ledger %s: %w", base, err)
	}
	l.chainID = info.ChainID
	logger.Info("dev ledger connected", zap.String("url", l.base), zap.Uint64("chain_id", info.ChainID))
	return l, nil
}

// ChainID implements Ledger.
func (l *DevnetLedger) ChainID() uint64 { return l.chainID }

// Close implements Ledger. HTTP connections are pooled; nothing to release.
func (l *DevnetLedger) Close() {}

// TotalMessages implements Reader.
func (l *DevnetLedger) TotalMessages(ctx context.Context) (uint64, error) {
	var resp TotalResponse
	if err := l.getJSON(ctx, "/api/v1/messages/total", &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

// GetMessages implements Reader.
func (l *DevnetLedger) GetMessages(ctx context.Context, offset, count uint64) ([]Message, error) {
	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("count", fmt.Sprint(count))
	var resp MessagesResponse
	if err := l.getJSON(ctx, "/api/v1/messages?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PostMessage implements Writer.
func (l *DevnetLedger) PostMessage(ctx context.Context, signer Signer, text string) (Tx, error) {
	nonce := l.nonces.Next()
	sig, err := SignPayload(signer, PostPayload(l.chainID, nonce, text))
	if err != nil {
		return nil, err
	}
	req := PostRequest{Text: text, Sender: signer.Address(), Nonce: nonce, Signature: hexutil.Encode(sig)}
	return l.submit(ctx, "/api/v1/messages", req)
}

// LikeMessage implements Writer.
func (l *DevnetLedger) LikeMessage(ctx context.Context, signer Signer, index uint64) (Tx, error) {
	sig, err := SignPayload(signer, LikePayload(l.chainID, index))
	if err != nil {
		return nil, err
	}
	req := LikeRequest{Liker: signer.Address(), Signature: hexutil.Encode(sig)}
	return l.submit(ctx, fmt.Sprintf("/api/v1/messages/%d/like", index), req)
}

func (l *DevnetLedger) submit(ctx context.Context, path string, body any) (Tx, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var status TxStatus
	if err := l.do(req, &status); err != nil {
		return nil, err
	}
	l.logger.Debug("dev ledger tx submitted", zap.String("tx", status.ID), zap.String("path", path))
	return &devnetTx{ledger: l, id: status.ID}, nil
}

// Subscribe implements Subscriber over the /api/v1/events websocket.
func (l *DevnetLedger) Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(l.base, "http") + "/api/v1/events"
	conn, _, err := l.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial events stream: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		frames := make(chan WireEvent)
		readErr := make(chan error, 1)
		go func() {
			for {
				var w WireEvent
				if err := conn.ReadJSON(&w); err != nil {
					readErr <- err
					return
				}
				select {
				case frames <- w:
				case <-quit:
					return
				}
			}
		}()
		defer conn.Close()

		for {
			select {
			case <-quit:
				return nil
			case err := <-readErr:
				return fmt.Errorf("events stream: %w", err)
			case w := <-frames:
				ev, err := w.Event()
				if err != nil {
					l.logger.Warn("skipping event frame", zap.Error(err))
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (l *DevnetLedger) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return l.do(req, out)
}

// do executes req and decodes the JSON body into out. Client errors (4xx)
// are ledger refusals and wrap ErrReverted.
func (l *DevnetLedger) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Error == "" {
			e.Error = string(body)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrReverted, e.Error)
		}
		return fmt.Errorf("dev ledger HTTP %d: %s", resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type devnetTx struct {
	ledger *DevnetLedger
	id     string
}

func (t *devnetTx) ID() string { return t.id }

// Wait polls the tx endpoint until the write leaves the pending state.
func (t *devnetTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(t.ledger.pollInterval)
	defer ticker.Stop()
	for {
		var st TxStatus
		if err := t.ledger.getJSON(ctx, "/api/v1/tx/"+t.id, &st); err != nil {
			return fmt.Errorf("poll tx %s: %w", t.id, err)
		}
		switch st.Status {
		case TxConfirmed:
			return nil
		case TxReverted:
			return fmt.Errorf("%w: %s", ErrReverted, st.Error)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Ledger = (*DevnetLedger)(nil)
