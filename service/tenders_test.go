package service

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"tender-gateway/ledger"
	"tender-gateway/models"
	"tender-gateway/pipeline"
)

type stubReader struct {
	connected bool
	tenders   map[uint64]models.Tender
	proposals map[uint64][]models.Proposal
	readErr   error
}

func (s *stubReader) Connected(ctx context.Context) bool { return s.connected }

func (s *stubReader) TenderCount(ctx context.Context) (uint64, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	return uint64(len(s.tenders)), nil
}

func (s *stubReader) TenderAt(ctx context.Context, id uint64) (models.Tender, error) {
	if s.readErr != nil {
		return models.Tender{}, s.readErr
	}
	return s.tenders[id], nil
}

func (s *stubReader) ProposalsFor(ctx context.Context, tenderID uint64) ([]models.Proposal, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.proposals[tenderID], nil
}

type stubSubmitter struct {
	calls   []pipeline.CallSpec
	receipt models.Receipt
	err     error
}

func (s *stubSubmitter) Submit(ctx context.Context, call pipeline.CallSpec) (models.Receipt, error) {
	s.calls = append(s.calls, call)
	if s.err != nil {
		return models.Receipt{}, s.err
	}
	return s.receipt, nil
}

func TestListWalksOneThroughCount(t *testing.T) {
	reader := &stubReader{tenders: map[uint64]models.Tender{
		1: {ID: 1, ExternalRef: "A"},
		2: {ID: 2, ExternalRef: "B"},
		3: {ID: 3, ExternalRef: "C"},
	}}
	svc := NewTenderService(reader, &stubSubmitter{})

	tenders, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tenders, 3)
	require.Equal(t, "A", tenders[0].ExternalRef)
	require.Equal(t, "C", tenders[2].ExternalRef)
}

func TestGetMapsSentinelZeroToNotFound(t *testing.T) {
	reader := &stubReader{tenders: map[uint64]models.Tender{
		1: {ID: 1, ExternalRef: "A"},
	}}
	svc := NewTenderService(reader, &stubSubmitter{})

	_, err := svc.Get(context.Background(), 0)
	require.ErrorIs(t, err, ErrNotFound)

	// The contract answers lookups of unknown ids with a zeroed record.
	_, err = svc.Get(context.Background(), 999999)
	require.ErrorIs(t, err, ErrNotFound)

	tender, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tender.ID)
}

func TestCreatePassesSpecThrough(t *testing.T) {
	sub := &stubSubmitter{receipt: models.Receipt{TxHash: "0xabc", BlockNumber: 7}}
	svc := NewTenderService(&stubReader{}, sub)

	receipt, err := svc.Create(context.Background(), CreateTenderSpec{
		ExternalRef:  "VNT-2025-001",
		Description:  "road repair",
		DocumentHash: "0xdoc",
	})
	require.NoError(t, err)
	require.Equal(t, "0xabc", receipt.TxHash)
	require.Len(t, sub.calls, 1)
	require.Equal(t, "createTender", sub.calls[0].Method)
	require.Equal(t, []interface{}{"VNT-2025-001", "road repair", "0xdoc"}, sub.calls[0].Args)
}

func TestCreateMapsRevertToValidation(t *testing.T) {
	sub := &stubSubmitter{err: ledger.NewError(ledger.CodeReverted, "external ref already used", nil)}
	svc := NewTenderService(&stubReader{}, sub)

	_, err := svc.Create(context.Background(), CreateTenderSpec{ExternalRef: "VNT-2025-001"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "external ref already used", validation.Reason)
}

func TestCreateLeavesTransportErrorsTyped(t *testing.T) {
	sub := &stubSubmitter{err: ledger.NewError(ledger.CodeConnectivity, "", nil)}
	svc := NewTenderService(&stubReader{}, sub)

	_, err := svc.Create(context.Background(), CreateTenderSpec{})
	require.True(t, ledger.HasCode(err, ledger.CodeConnectivity))
	var validation *ValidationError
	require.False(t, errors.As(err, &validation))
}

func TestSubmitProposalHashesServerSide(t *testing.T) {
	sub := &stubSubmitter{receipt: models.Receipt{TxHash: "0xdef"}}
	svc := NewTenderService(&stubReader{}, sub)

	document := []byte("offer: 12000 EUR")
	digest, receipt, err := svc.SubmitProposal(context.Background(), 4, document)
	require.NoError(t, err)
	require.Equal(t, DocumentDigest(document), digest)
	require.Equal(t, "0xdef", receipt.TxHash)

	require.Len(t, sub.calls, 1)
	require.Equal(t, "submitProposal", sub.calls[0].Method)
	require.Equal(t, new(big.Int).SetUint64(4), sub.calls[0].Args[0])
	require.Equal(t, digest, sub.calls[0].Args[1])
}

func TestDocumentDigestDependsOnlyOnBytes(t *testing.T) {
	a := DocumentDigest([]byte("same content"))
	b := DocumentDigest([]byte("same content"))
	c := DocumentDigest([]byte("other content"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 2+64)
	require.Equal(t, "0x", a[:2])
}

func TestAwardSecondAttemptSurfacesRejection(t *testing.T) {
	sub := &stubSubmitter{receipt: models.Receipt{TxHash: "0x111"}}
	svc := NewTenderService(&stubReader{}, sub)

	_, err := svc.Award(context.Background(), 2)
	require.NoError(t, err)

	sub.err = ledger.NewError(ledger.CodeReverted, "tender already awarded", nil)
	_, err = svc.Award(context.Background(), 2)
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "tender already awarded", validation.Reason)
}

func TestAwardTimeoutIsNotValidation(t *testing.T) {
	sub := &stubSubmitter{err: ledger.NewError(ledger.CodeConfirmationTimeout, "", nil)}
	svc := NewTenderService(&stubReader{}, sub)

	_, err := svc.Award(context.Background(), 2)
	require.True(t, ledger.HasCode(err, ledger.CodeConfirmationTimeout))
}

func TestProposalsKeepInsertionOrder(t *testing.T) {
	reader := &stubReader{proposals: map[uint64][]models.Proposal{
		3: {
			{Bidder: "0xaa", ProposalHash: "0x1", SubmittedAt: 100},
			{Bidder: "0xbb", ProposalHash: "0x2", SubmittedAt: 90},
		},
	}}
	svc := NewTenderService(reader, &stubSubmitter{})

	proposals, err := svc.Proposals(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	require.Equal(t, "0x1", proposals[0].ProposalHash)
	require.Equal(t, "0x2", proposals[1].ProposalHash)
}
