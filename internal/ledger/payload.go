package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PostPayload is the text a signer endorses when posting to the dev ledger.
// nonce must increase with every post from the same sender.
func PostPayload(chainID, nonce uint64, text string) []byte {
	return []byte(fmt.Sprintf("portal:%d:post:%d:%s", chainID, nonce, text))
}

// Nonces hands out strictly increasing post nonces. A nonce is the wall
// clock in milliseconds, bumped past the previous one when the clock has
// not moved.
type Nonces struct {
	mu   sync.Mutex
	last uint64
}

// Next returns the next nonce.
func (n *Nonces) Next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	next := uint64(time.Now().UnixMilli())
	if next <= n.last {
		next = n.last + 1
	}
	n.last = next
	return next
}

// LikePayload is the text a signer endorses when liking on the dev ledger.
func LikePayload(chainID, index uint64) []byte {
	return []byte(fmt.Sprintf("portal:%d:like:%d", chainID, index))
}

// SignPayload produces a personal-message signature over payload.
func SignPayload(s Signer, payload []byte) ([]byte, error) {
	sig, err := s.SignHash(accounts.TextHash(payload))
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return sig, nil
}

// RecoverSigner returns the address that produced sig over payload.
func RecoverSigner(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
