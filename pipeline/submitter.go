// Package pipeline drives one state-changing ledger operation end to end:
// pack -> reserve nonce -> sign -> broadcast -> await confirmation. Nonce
// allocation is serialized per signing identity; the confirmation wait is
// not, so a slow block never blocks other requests.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tender-gateway/ledger"
	"tender-gateway/models"
)

// State tracks a pending operation through its lifecycle. An operation
// only exists for the duration of one Submit call.
type State int

const (
	StateBuilding State = iota
	StateSigned
	StateBroadcast
	StateConfirmed
	StateReverted
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigned:
		return "signed"
	case StateBroadcast:
		return "broadcast"
	case StateConfirmed:
		return "confirmed"
	case StateReverted:
		return "reverted"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// CallSpec names the contract function to invoke and its arguments.
type CallSpec struct {
	Method string
	Args   []interface{}
}

// Ledger is what the submitter needs from the adapter.
type Ledger interface {
	SignerAddress() common.Address
	PackCall(method string, args ...interface{}) ([]byte, error)
	ReserveNonce(ctx context.Context) (uint64, error)
	AbandonNonce(nonce uint64)
	PrepareTx(ctx context.Context, callData []byte, nonce uint64) (*types.Transaction, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	AwaitReceipt(ctx context.Context, tx *types.Transaction, timeout time.Duration) (models.Receipt, error)
}

// Options tune retry and confirmation behaviour.
type Options struct {
	ConfirmTimeout    time.Duration
	BroadcastAttempts int
	RetryDelay        time.Duration
}

func (o *Options) fillDefaults() {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 90 * time.Second
	}
	if o.BroadcastAttempts <= 0 {
		o.BroadcastAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// Submitter serializes nonce allocation per signing identity and maps
// every failure to a typed ledger error.
type Submitter struct {
	ledger Ledger
	opts   Options

	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

func New(l Ledger, opts Options) *Submitter {
	opts.fillDefaults()
	return &Submitter{
		ledger: l,
		opts:   opts,
		locks:  make(map[common.Address]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding nonce allocation for one identity.
// Distinct identities never contend.
func (s *Submitter) lockFor(addr common.Address) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[addr]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[addr] = mu
	}
	return mu
}

// Submit runs one operation to a terminal state and returns its receipt.
// A ConfirmationTimeout error means the outcome is unknown: the
// transaction was accepted by the network and is never resubmitted here.
func (s *Submitter) Submit(ctx context.Context, call CallSpec) (models.Receipt, error) {
	data, err := s.ledger.PackCall(call.Method, call.Args...)
	if err != nil {
		return models.Receipt{}, err
	}

	tx, err := s.buildAndBroadcast(ctx, data)
	if err != nil {
		return models.Receipt{}, err
	}
	state := StateBroadcast

	// The wait is detached from the request's cancellation: a broadcast
	// transaction cannot be recalled, so we keep watching it server-side
	// even if the client hangs up.
	waitCtx := context.WithoutCancel(ctx)
	receipt, err := s.ledger.AwaitReceipt(waitCtx, tx, s.opts.ConfirmTimeout)
	if err != nil {
		switch {
		case ledger.HasCode(err, ledger.CodeReverted):
			state = StateReverted
		case ledger.HasCode(err, ledger.CodeConfirmationTimeout):
			state = StateTimedOut
		}
		log.Printf("submit %s: tx %s ended %s: %v", call.Method, tx.Hash().Hex(), state, err)
		return models.Receipt{}, err
	}

	state = StateConfirmed
	log.Printf("submit %s: tx %s %s in block %d", call.Method, receipt.TxHash, state, receipt.BlockNumber)
	return receipt, nil
}

// buildAndBroadcast holds the identity's lock from nonce reservation to
// pool acceptance, so two concurrent submissions can never race on the
// same nonce. The lock is released before the confirmation wait.
func (s *Submitter) buildAndBroadcast(ctx context.Context, data []byte) (*types.Transaction, error) {
	mu := s.lockFor(s.ledger.SignerAddress())
	mu.Lock()
	defer mu.Unlock()

	nonce, err := s.ledger.ReserveNonce(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.PrepareTx(ctx, data, nonce)
	if err != nil {
		s.ledger.AbandonNonce(nonce)
		return nil, err
	}

	if err := s.broadcastWithRetry(ctx, tx); err != nil {
		s.ledger.AbandonNonce(nonce)
		return nil, err
	}
	return tx, nil
}

// broadcastWithRetry resends the identical signed payload on transport
// failures only. Anything the pool already accepted, or rejected for a
// domain reason, is never retried.
func (s *Submitter) broadcastWithRetry(ctx context.Context, tx *types.Transaction) error {
	var lastErr error
	for attempt := 0; attempt < s.opts.BroadcastAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(s.opts.RetryDelay):
			}
		}
		lastErr = s.ledger.Broadcast(ctx, tx)
		if lastErr == nil {
			return nil
		}
		if !ledger.HasCode(lastErr, ledger.CodeConnectivity) {
			return lastErr
		}
		log.Printf("broadcast attempt %d for tx %s failed: %v", attempt+1, tx.Hash().Hex(), lastErr)
	}
	return lastErr
}
