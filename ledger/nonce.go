package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceRegistry tracks, per signing address, the next nonce to hand out.
// The ledger only knows about nonces it has already seen in the pending
// pool; the registry bridges the window between "reserved here" and
// "observed there" so rapid successive submissions never reuse a value.
type nonceRegistry struct {
	mu       sync.Mutex
	accounts map[common.Address]*accountNonce
}

type accountNonce struct {
	mu     sync.Mutex
	synced bool
	next   uint64
}

func newNonceRegistry() *nonceRegistry {
	return &nonceRegistry{accounts: make(map[common.Address]*accountNonce)}
}

func (r *nonceRegistry) account(addr common.Address) *accountNonce {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[addr]
	if !ok {
		acct = &accountNonce{}
		r.accounts[addr] = acct
	}
	return acct
}

// Reserve returns the next unused nonce for addr. fetch queries the
// ledger's pending transaction count and is only consulted when the
// local counter is out of sync (first use, or after an abandon that
// could not be rolled back).
func (r *nonceRegistry) Reserve(ctx context.Context, addr common.Address, fetch func(context.Context, common.Address) (uint64, error)) (uint64, error) {
	acct := r.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.synced {
		n, err := fetch(ctx, addr)
		if err != nil {
			return 0, err
		}
		// Never move backwards past a reservation we already handed out.
		if n > acct.next {
			acct.next = n
		}
		acct.synced = true
	}

	nonce := acct.next
	acct.next++
	return nonce, nil
}

// Abandon returns a reservation that was never broadcast. If it is still
// the most recent one the counter simply rolls back; otherwise the
// account is marked out of sync and refetched on the next reserve.
func (r *nonceRegistry) Abandon(addr common.Address, nonce uint64) {
	acct := r.account(addr)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.next == nonce+1 {
		acct.next = nonce
		return
	}
	acct.synced = false
}
