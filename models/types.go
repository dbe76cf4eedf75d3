package models

// TenderStatus mirrors the contract's status enum for a tender slot.
type TenderStatus uint8

const (
	StatusOpen TenderStatus = iota
	StatusAwarded
)

func (s TenderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusAwarded:
		return "awarded"
	default:
		return "unknown"
	}
}

func (s TenderStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Tender is one ledger slot. ID 0 is the contract's "not found" sentinel
// and never belongs to a real tender.
type Tender struct {
	ID           uint64       `json:"id"`
	ExternalRef  string       `json:"external_ref"`
	Description  string       `json:"description"`
	Status       TenderStatus `json:"status"`
	Creator      string       `json:"creator"`
	DocumentHash string       `json:"document_hash"`
}

// Proposal is a bidder's hash commitment, immutable once recorded.
// Slice ordering follows the contract's insertion order.
type Proposal struct {
	Bidder       string `json:"bidder"`
	ProposalHash string `json:"proposal_hash"`
	SubmittedAt  int64  `json:"submitted_at"`
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}
