package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"tender-gateway/ledger"
	"tender-gateway/models"
	"tender-gateway/pipeline"
)

// LedgerReader is the read-only slice of the adapter the service uses.
// Read calls never touch the nonce path and run fully in parallel.
type LedgerReader interface {
	Connected(ctx context.Context) bool
	TenderCount(ctx context.Context) (uint64, error)
	TenderAt(ctx context.Context, id uint64) (models.Tender, error)
	ProposalsFor(ctx context.Context, tenderID uint64) ([]models.Proposal, error)
}

// Submitter runs one mutating operation through the submission pipeline.
type Submitter interface {
	Submit(ctx context.Context, call pipeline.CallSpec) (models.Receipt, error)
}

// CreateTenderSpec is the caller-supplied part of a new tender.
type CreateTenderSpec struct {
	ExternalRef  string `json:"external_ref"`
	Description  string `json:"description"`
	DocumentHash string `json:"document_hash"`
}

// TenderService exposes the tendering operations as thin orchestrations
// over the adapter and the pipeline.
type TenderService struct {
	reader    LedgerReader
	submitter Submitter
}

func NewTenderService(reader LedgerReader, submitter Submitter) *TenderService {
	return &TenderService{reader: reader, submitter: submitter}
}

// Connected reports whether the ledger endpoint currently answers.
func (s *TenderService) Connected(ctx context.Context) bool {
	return s.reader.Connected(ctx)
}

// List walks ids 1..count. Index 0 is never a valid tender.
func (s *TenderService) List(ctx context.Context) ([]models.Tender, error) {
	count, err := s.reader.TenderCount(ctx)
	if err != nil {
		return nil, err
	}

	tenders := make([]models.Tender, 0, count)
	for id := uint64(1); id <= count; id++ {
		t, err := s.reader.TenderAt(ctx, id)
		if err != nil {
			return nil, err
		}
		tenders = append(tenders, t)
	}
	return tenders, nil
}

// Get returns one tender, mapping the contract's zero-id sentinel to
// ErrNotFound instead of an empty record.
func (s *TenderService) Get(ctx context.Context, id uint64) (models.Tender, error) {
	if id == 0 {
		return models.Tender{}, ErrNotFound
	}
	t, err := s.reader.TenderAt(ctx, id)
	if err != nil {
		return models.Tender{}, err
	}
	if t.ID == 0 {
		return models.Tender{}, ErrNotFound
	}
	return t, nil
}

// Create publishes a new tender through the pipeline.
func (s *TenderService) Create(ctx context.Context, spec CreateTenderSpec) (models.Receipt, error) {
	receipt, err := s.submitter.Submit(ctx, pipeline.CallSpec{
		Method: "createTender",
		Args:   []interface{}{spec.ExternalRef, spec.Description, spec.DocumentHash},
	})
	if err != nil {
		return models.Receipt{}, mapDomainRevert(err)
	}
	return receipt, nil
}

// SubmitProposal hashes the document bytes here, never trusting a
// client-supplied digest, and records the commitment on the ledger.
func (s *TenderService) SubmitProposal(ctx context.Context, tenderID uint64, document []byte) (string, models.Receipt, error) {
	digest := DocumentDigest(document)
	receipt, err := s.submitter.Submit(ctx, pipeline.CallSpec{
		Method: "submitProposal",
		Args:   []interface{}{new(big.Int).SetUint64(tenderID), digest},
	})
	if err != nil {
		return "", models.Receipt{}, mapDomainRevert(err)
	}
	return digest, receipt, nil
}

// Proposals returns the recorded commitments in ledger insertion order.
func (s *TenderService) Proposals(ctx context.Context, tenderID uint64) ([]models.Proposal, error) {
	return s.reader.ProposalsFor(ctx, tenderID)
}

// Award transitions a tender to awarded. Awarding an already-awarded
// tender surfaces the ledger's rejection as a domain error, never a
// silent success.
func (s *TenderService) Award(ctx context.Context, tenderID uint64) (models.Receipt, error) {
	receipt, err := s.submitter.Submit(ctx, pipeline.CallSpec{
		Method: "awardTender",
		Args:   []interface{}{new(big.Int).SetUint64(tenderID)},
	})
	if err != nil {
		return models.Receipt{}, mapDomainRevert(err)
	}
	return receipt, nil
}

// DocumentDigest is the fixed hashing policy for proposal documents:
// 0x-prefixed hex of the SHA-256 of the raw bytes.
func DocumentDigest(document []byte) string {
	sum := sha256.Sum256(document)
	return "0x" + hex.EncodeToString(sum[:])
}

// mapDomainRevert turns ledger-side rule violations into ValidationError
// so the HTTP layer can distinguish them from transport and timeout
// failures. Everything else passes through typed.
func mapDomainRevert(err error) error {
	if ledger.HasCode(err, ledger.CodeReverted) || ledger.HasCode(err, ledger.CodeLedgerCall) {
		return &ValidationError{Reason: ledger.RevertReason(err)}
	}
	return err
}
