package pipeline

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"tender-gateway/ledger"
	"tender-gateway/models"
)

// fakeLedger tracks nonce issue/abandon ordering and scripts broadcast
// and confirmation outcomes per call.
type fakeLedger struct {
	mu         sync.Mutex
	key        *ecdsa.PrivateKey
	next       uint64
	abandoned  []uint64
	broadcast  []*types.Transaction
	sendErrs   []error
	receiptFn  func(tx *types.Transaction) (models.Receipt, error)
	packErr    error
	inCritical bool
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeLedger{key: key}
}

func (f *fakeLedger) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}

func (f *fakeLedger) PackCall(method string, args ...interface{}) ([]byte, error) {
	if f.packErr != nil {
		return nil, f.packErr
	}
	return []byte(method), nil
}

func (f *fakeLedger) ReserveNonce(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inCritical {
		return 0, ledger.NewError(ledger.CodeSigning, "", nil)
	}
	f.inCritical = true
	nonce := f.next
	f.next++
	return nonce, nil
}

func (f *fakeLedger) AbandonNonce(nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, nonce)
	f.inCritical = false
	if f.next == nonce+1 {
		f.next = nonce
	}
}

func (f *fakeLedger) PrepareTx(ctx context.Context, callData []byte, nonce uint64) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		Data:     callData,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(1)), f.key)
}

func (f *fakeLedger) Broadcast(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.inCritical = false
	return nil
}

func (f *fakeLedger) AwaitReceipt(ctx context.Context, tx *types.Transaction, timeout time.Duration) (models.Receipt, error) {
	if f.receiptFn != nil {
		return f.receiptFn(tx)
	}
	return models.Receipt{TxHash: tx.Hash().Hex(), BlockNumber: 1}, nil
}

func fastOptions() Options {
	return Options{ConfirmTimeout: time.Second, BroadcastAttempts: 3, RetryDelay: time.Millisecond}
}

func TestSubmitConfirms(t *testing.T) {
	fake := newFakeLedger(t)
	sub := New(fake, fastOptions())

	receipt, err := sub.Submit(context.Background(), CallSpec{Method: "createTender", Args: []interface{}{"ref"}})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.TxHash)
	require.Len(t, fake.broadcast, 1)
	require.Empty(t, fake.abandoned)
}

func TestSubmitConcurrentNoncesAreContiguous(t *testing.T) {
	fake := newFakeLedger(t)
	sub := New(fake, fastOptions())

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sub.Submit(context.Background(), CallSpec{Method: "awardTender"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, fake.broadcast, n)
	nonces := make([]uint64, 0, n)
	for _, tx := range fake.broadcast {
		nonces = append(nonces, tx.Nonce())
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		require.Equal(t, uint64(i), nonce, "gap or duplicate in broadcast nonces")
	}
}

func TestSubmitRetriesTransportFailureWithSamePayload(t *testing.T) {
	fake := newFakeLedger(t)
	fake.sendErrs = []error{
		ledger.NewError(ledger.CodeConnectivity, "", nil),
		ledger.NewError(ledger.CodeConnectivity, "", nil),
		nil,
	}
	sub := New(fake, fastOptions())

	_, err := sub.Submit(context.Background(), CallSpec{Method: "createTender"})
	require.NoError(t, err)
	require.Len(t, fake.broadcast, 3)
	// The signed payload is reused verbatim across attempts.
	require.Equal(t, fake.broadcast[0].Hash(), fake.broadcast[1].Hash())
	require.Equal(t, fake.broadcast[0].Hash(), fake.broadcast[2].Hash())
	require.Empty(t, fake.abandoned)
}

func TestSubmitDomainRejectionNotRetried(t *testing.T) {
	fake := newFakeLedger(t)
	fake.sendErrs = []error{
		ledger.NewError(ledger.CodeLedgerCall, "tender already awarded", nil),
	}
	sub := New(fake, fastOptions())

	_, err := sub.Submit(context.Background(), CallSpec{Method: "awardTender"})
	require.Error(t, err)
	require.True(t, ledger.HasCode(err, ledger.CodeLedgerCall))
	require.Len(t, fake.broadcast, 1)
	// The nonce is released so the next submission reuses it.
	require.Equal(t, []uint64{0}, fake.abandoned)
}

func TestSubmitExhaustedRetriesAbandonNonce(t *testing.T) {
	fake := newFakeLedger(t)
	transport := ledger.NewError(ledger.CodeConnectivity, "", nil)
	fake.sendErrs = []error{transport, transport, transport}
	sub := New(fake, fastOptions())

	_, err := sub.Submit(context.Background(), CallSpec{Method: "createTender"})
	require.Error(t, err)
	require.True(t, ledger.HasCode(err, ledger.CodeConnectivity))
	require.Len(t, fake.broadcast, 3)
	require.Equal(t, []uint64{0}, fake.abandoned)

	// A follow-up submission gets nonce 0 back.
	fake.sendErrs = nil
	_, err = sub.Submit(context.Background(), CallSpec{Method: "createTender"})
	require.NoError(t, err)
	require.Equal(t, uint64(0), fake.broadcast[3].Nonce())
}

func TestSubmitTimeoutKeepsNonceConsumed(t *testing.T) {
	fake := newFakeLedger(t)
	fake.receiptFn = func(tx *types.Transaction) (models.Receipt, error) {
		return models.Receipt{}, ledger.NewError(ledger.CodeConfirmationTimeout, "", nil)
	}
	sub := New(fake, fastOptions())

	_, err := sub.Submit(context.Background(), CallSpec{Method: "submitProposal"})
	require.Error(t, err)
	require.True(t, ledger.HasCode(err, ledger.CodeConfirmationTimeout))
	// Outcome unknown: the nonce must stay burned, never rolled back.
	require.Empty(t, fake.abandoned)

	fake.receiptFn = nil
	_, err = sub.Submit(context.Background(), CallSpec{Method: "submitProposal"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), fake.broadcast[1].Nonce())
}

func TestSubmitRevertSurfacesReason(t *testing.T) {
	fake := newFakeLedger(t)
	fake.receiptFn = func(tx *types.Transaction) (models.Receipt, error) {
		return models.Receipt{}, ledger.NewError(ledger.CodeReverted, "proposal window closed", nil)
	}
	sub := New(fake, fastOptions())

	_, err := sub.Submit(context.Background(), CallSpec{Method: "submitProposal"})
	require.Error(t, err)
	require.True(t, ledger.HasCode(err, ledger.CodeReverted))
	require.Equal(t, "proposal window closed", ledger.RevertReason(err))
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "confirmed", StateConfirmed.String())
	require.Equal(t, "timed_out", StateTimedOut.String())
	require.Equal(t, "unknown", State(99).String())
}
