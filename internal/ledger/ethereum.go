package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// contractMessage mirrors the getMessages tuple. Field names and tags must
// match the ABI components for abi.ConvertType.
type contractMessage struct {
	Sender    common.Address `json:"sender"`
	Text      string         `json:"text"`
	Timestamp *big.Int       `json:"timestamp"`
	Likes     *big.Int       `json:"likes"`
}

type contractNewMessage struct {
	Sender    common.Address
	Text      string
	Timestamp *big.Int
	Index     *big.Int
}

type contractMessageLiked struct {
	Liker        common.Address
	Index        *big.Int
	NewLikeCount *big.Int
}

// EthLedger talks to a deployed MessagePortal contract over JSON-RPC.
// Subscriptions need a websocket or IPC endpoint.
type EthLedger struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	logger   *zap.Logger
}

// DialEthereum connects to rpcURL and binds the contract at address.
func DialEthereum(ctx context.Context, rpcURL string, address common.Address, logger *zap.Logger) (*EthLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(portalABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract ABI: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	logger.Info("ledger connected",
		zap.String("rpc", rpcURL),
		zap.String("contract", address.Hex()),
		zap.Uint64("chain_id", chainID.Uint64()),
	)

	return &EthLedger{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		abi:      parsed,
		address:  address,
		chainID:  chainID,
		logger:   logger,
	}, nil
}

// ChainID implements Ledger.
func (l *EthLedger) ChainID() uint64 { return l.chainID.Uint64() }

// Close implements Ledger.
func (l *EthLedger) Close() { l.client.Close() }

// TotalMessages implements Reader.
func (l *EthLedger) TotalMessages(ctx context.Context) (uint64, error) {
	var out []any
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "totalMessages"); err != nil {
		return 0, fmt.Errorf("call totalMessages: %w", err)
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !n.IsUint64() {
		return 0, fmt.Errorf("totalMessages out of range: %s", n)
	}
	return n.Uint64(), nil
}

// GetMessages implements Reader.
func (l *EthLedger) GetMessages(ctx context.Context, offset, count uint64) ([]Message, error) {
	var out []any
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getMessages",
		new(big.Int).SetUint64(offset), new(big.Int).SetUint64(count))
	if err != nil {
		return nil, fmt.Errorf("call getMessages(%d, %d): %w", offset, count, err)
	}
	raw := *abi.ConvertType(out[0], new([]contractMessage)).(*[]contractMessage)

	msgs := make([]Message, len(raw))
	for i, m := range raw {
		msgs[i] = Message{
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: m.Timestamp.Int64(),
			Likes:     m.Likes.Uint64(),
		}
	}
	return msgs, nil
}

// PostMessage implements Writer.
func (l *EthLedger) PostMessage(ctx context.Context, signer Signer, text string) (Tx, error) {
	tx, err := l.contract.Transact(l.transactOpts(ctx, signer), "postMessage", text)
	if err != nil {
		return nil, fmt.Errorf("send postMessage: %w", err)
	}
	l.logger.Debug("postMessage submitted", zap.String("tx", tx.Hash().Hex()))
	return &ethTx{tx: tx, client: l.client}, nil
}

// LikeMessage implements Writer.
func (l *EthLedger) LikeMessage(ctx context.Context, signer Signer, index uint64) (Tx, error) {
	tx, err := l.contract.Transact(l.transactOpts(ctx, signer), "likeMessage", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("send likeMessage(%d): %w", index, err)
	}
	l.logger.Debug("likeMessage submitted", zap.String("tx", tx.Hash().Hex()), zap.Uint64("index", index))
	return &ethTx{tx: tx, client: l.client}, nil
}

// transactOpts routes transaction signing through the agent's signer so the
// private key never leaves the agent.
func (l *EthLedger) transactOpts(ctx context.Context, s Signer) *bind.TransactOpts {
	from := s.Address()
	txSigner := types.LatestSignerForChainID(l.chainID)
	return &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}
			h := txSigner.Hash(tx)
			sig, err := s.SignHash(h.Bytes())
			if err != nil {
				return nil, err
			}
			return tx.WithSignature(txSigner, sig)
		},
	}
}

// Subscribe implements Subscriber. A single log filter over the contract
// address keeps NewMessage and MessageLiked in ledger order.
func (l *EthLedger) Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error) {
	logs := make(chan types.Log, 64)
	q := ethereum.FilterQuery{Addresses: []common.Address{l.address}}
	sub, err := l.client.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, fmt.Errorf("subscribe contract logs: %w (use a ws:// rpc url)", err)
		}
		return nil, fmt.Errorf("subscribe contract logs: %w", err)
	}

	newID := l.abi.Events["NewMessage"].ID
	likedID := l.abi.Events["MessageLiked"].ID

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				return err
			case lg := <-logs:
				if lg.Removed || len(lg.Topics) == 0 {
					continue
				}
				var ev Event
				switch lg.Topics[0] {
				case newID:
					ev, err = l.decodeNewMessage(lg)
				case likedID:
					ev, err = l.decodeLiked(lg)
				default:
					continue
				}
				if err != nil {
					l.logger.Warn("skipping undecodable log",
						zap.String("tx", lg.TxHash.Hex()),
						zap.Error(err),
					)
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

func (l *EthLedger) decodeNewMessage(lg types.Log) (Event, error) {
	var raw contractNewMessage
	if err := l.contract.UnpackLog(&raw, "NewMessage", lg); err != nil {
		return nil, fmt.Errorf("unpack NewMessage: %w", err)
	}
	return NewMessage{
		Sender:    raw.Sender,
		Text:      raw.Text,
		Timestamp: raw.Timestamp.Int64(),
		Index:     raw.Index.Uint64(),
	}, nil
}

func (l *EthLedger) decodeLiked(lg types.Log) (Event, error) {
	var raw contractMessageLiked
	if err := l.contract.UnpackLog(&raw, "MessageLiked", lg); err != nil {
		return nil, fmt.Errorf("unpack MessageLiked: %w", err)
	}
	return MessageLiked{
		Liker: raw.Liker,
		Index: raw.Index.Uint64(),
		Likes: raw.NewLikeCount.Uint64(),
	}, nil
}

// ethTx waits for a transaction receipt.
type ethTx struct {
	tx     *types.Transaction
	client *ethclient.Client
}

func (t *ethTx) ID() string { return t.tx.Hash().Hex() }

func (t *ethTx) Wait(ctx context.Context) error {
	receipt, err := bind.WaitMined(ctx, t.client, t.tx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", t.ID(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s reverted in block %s", ErrReverted, t.ID(), receipt.BlockNumber)
	}
	return nil
}

var _ Ledger = (*EthLedger)(nil)
