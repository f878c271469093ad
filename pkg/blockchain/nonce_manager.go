package blockchain

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// nonceSource is the piece of the RPC client the nonce manager needs.
type nonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager allocates nonces for the relay signer. Gas bumps deliberately
// bypass it and reuse the nonce of the submission being replaced.
type NonceManager struct {
	client       nonceSource
	address      common.Address
	currentNonce uint64
	lastSync     time.Time
	syncInterval time.Duration
	mu           sync.Mutex
}

// NewNonceManager creates a nonce manager for the given signer address
func NewNonceManager(client nonceSource, address common.Address) *NonceManager {
	return &NonceManager{
		client:       client,
		address:      address,
		syncInterval: 5 * time.Minute,
	}
}

// Next reserves and returns the next available nonce. The local counter is
// periodically resynchronized against the node's pending nonce so a restart
// or an externally sent transaction cannot wedge the relay.
func (nm *NonceManager) Next(ctx context.Context) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > nm.syncInterval {
		nonce, err := nm.client.PendingNonceAt(ctx, nm.address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nm.currentNonce {
			log.Printf("Updating nonce for %s: %d -> %d", nm.address.Hex(), nm.currentNonce, nonce)
			nm.currentNonce = nonce
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// ForceSync drops the local counter and resynchronizes on the next Next call.
// Used after a broadcast failure that indicates a nonce gap.
func (nm *NonceManager) ForceSync() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.lastSync = time.Time{}
}
