package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"tender-gateway/models"
)

// ABI of the tender registry contract. The contract assigns ids starting
// at 1; slot 0 always decodes to a zero-valued tender.
const registryABI = `[
  {"type":"function","name":"tenderCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tenders","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"},{"name":"externalRef","type":"string"},{"name":"description","type":"string"},{"name":"status","type":"uint8"},{"name":"creator","type":"address"},{"name":"documentHash","type":"string"}]},
  {"type":"function","name":"getProposals","stateMutability":"view","inputs":[{"name":"tenderId","type":"uint256"}],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"bidder","type":"address"},{"name":"proposalHash","type":"string"},{"name":"submittedAt","type":"uint256"}]}]},
  {"type":"function","name":"createTender","stateMutability":"nonpayable","inputs":[{"name":"externalRef","type":"string"},{"name":"description","type":"string"},{"name":"documentHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"submitProposal","stateMutability":"nonpayable","inputs":[{"name":"tenderId","type":"uint256"},{"name":"proposalHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"awardTender","stateMutability":"nonpayable","inputs":[{"name":"tenderId","type":"uint256"}],"outputs":[]}
]`

// registryProposal matches the getProposals tuple layout for abi.ConvertType.
type registryProposal struct {
	Bidder       common.Address
	ProposalHash string
	SubmittedAt  *big.Int
}

func parseRegistryABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "parse registry ABI")
	}
	return parsed, nil
}

func decodeTender(out []interface{}) (models.Tender, error) {
	if len(out) != 6 {
		return models.Tender{}, errors.Errorf("tender slot decoded to %d values, want 6", len(out))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return models.Tender{}, errors.New("tender slot id is not a uint256")
	}
	return models.Tender{
		ID:           id.Uint64(),
		ExternalRef:  out[1].(string),
		Description:  out[2].(string),
		Status:       models.TenderStatus(out[3].(uint8)),
		Creator:      out[4].(common.Address).Hex(),
		DocumentHash: out[5].(string),
	}, nil
}

func decodeProposals(out []interface{}) ([]models.Proposal, error) {
	if len(out) != 1 {
		return nil, errors.Errorf("getProposals decoded to %d values, want 1", len(out))
	}
	raw := *abi.ConvertType(out[0], new([]registryProposal)).(*[]registryProposal)

	proposals := make([]models.Proposal, 0, len(raw))
	for _, p := range raw {
		proposals = append(proposals, models.Proposal{
			Bidder:       p.Bidder.Hex(),
			ProposalHash: p.ProposalHash,
			SubmittedAt:  p.SubmittedAt.Int64(),
		})
	}
	return proposals, nil
}
