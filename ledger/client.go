// Package ledger wraps connectivity to the tender registry contract: read
// calls, nonce sequencing for the gateway's signing key, transaction
// signing, broadcast and receipt polling.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"tender-gateway/models"
)

const (
	defaultPollInterval = 2 * time.Second
	connectProbeTimeout = 3 * time.Second
)

// Backend is the subset of the node RPC surface the gateway uses.
// *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is the ledger adapter. It owns the signing key and the nonce
// registry; everything else it holds is immutable after construction.
type Client struct {
	backend      Backend
	parsed       abi.ABI
	contract     common.Address
	key          *ecdsa.PrivateKey
	signer       common.Address
	chainID      *big.Int
	nonces       *nonceRegistry
	pollInterval time.Duration
}

// Dial connects to the RPC endpoint and verifies it answers before
// returning. A malformed signing key fails here, not on first use.
func Dial(ctx context.Context, rpcURL, contractHex, signerKeyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signerKeyHex, "0x"))
	if err != nil {
		return nil, NewError(CodeSigning, "", errors.Wrap(err, "parse signer key"))
	}
	if !common.IsHexAddress(contractHex) {
		return nil, errors.Errorf("invalid contract address %q", contractHex)
	}

	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, NewError(CodeConnectivity, "", errors.Wrap(err, "dial ledger endpoint"))
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, NewError(CodeConnectivity, "", errors.Wrap(err, "query chain id"))
	}

	return NewClient(backend, common.HexToAddress(contractHex), key, chainID)
}

// NewClient wires an adapter over an already-connected backend.
func NewClient(backend Backend, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*Client, error) {
	parsed, err := parseRegistryABI()
	if err != nil {
		return nil, err
	}
	return &Client{
		backend:      backend,
		parsed:       parsed,
		contract:     contract,
		key:          key,
		signer:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		nonces:       newNonceRegistry(),
		pollInterval: defaultPollInterval,
	}, nil
}

func (c *Client) SignerAddress() common.Address {
	return c.signer
}

// Connected probes the endpoint with a short deadline. Used by the
// liveness route only.
func (c *Client) Connected(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, connectProbeTimeout)
	defer cancel()
	_, err := c.backend.ChainID(probeCtx)
	return err == nil
}

// PackCall encodes a contract method invocation.
func (c *Client) PackCall(method string, args ...interface{}) ([]byte, error) {
	data, err := c.parsed.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	return data, nil
}

func (c *Client) readCall(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.PackCall(method, args...)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{From: c.signer, To: &c.contract, Data: data}
	raw, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, classifyCallError(err, method)
	}
	out, err := c.parsed.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return out, nil
}

// TenderCount returns the highest assigned tender id.
func (c *Client) TenderCount(ctx context.Context) (uint64, error) {
	out, err := c.readCall(ctx, "tenderCount")
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("tenderCount is not a uint256")
	}
	return count.Uint64(), nil
}

// TenderAt reads one tender slot. A zero-valued id in the result is the
// contract's "no such tender" sentinel; the caller decides what that means.
func (c *Client) TenderAt(ctx context.Context, id uint64) (models.Tender, error) {
	out, err := c.readCall(ctx, "tenders", new(big.Int).SetUint64(id))
	if err != nil {
		return models.Tender{}, err
	}
	return decodeTender(out)
}

// ProposalsFor returns the proposals recorded for a tender in insertion
// order.
func (c *Client) ProposalsFor(ctx context.Context, tenderID uint64) ([]models.Proposal, error) {
	out, err := c.readCall(ctx, "getProposals", new(big.Int).SetUint64(tenderID))
	if err != nil {
		return nil, err
	}
	return decodeProposals(out)
}

// ReserveNonce allocates the next unused nonce for the signing identity.
func (c *Client) ReserveNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.nonces.Reserve(ctx, c.signer, func(ctx context.Context, addr common.Address) (uint64, error) {
		n, err := c.backend.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, NewError(CodeConnectivity, "", errors.Wrap(err, "query pending nonce"))
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// AbandonNonce returns a reservation that was never broadcast.
func (c *Client) AbandonNonce(nonce uint64) {
	c.nonces.Abandon(c.signer, nonce)
}

// PrepareTx prices, builds and signs a contract call with the given nonce.
// Gas estimation executes the call against pending state, so a revert is
// caught here, before the nonce is spent on a doomed transaction.
func (c *Client) PrepareTx(ctx context.Context, callData []byte, nonce uint64) (*types.Transaction, error) {
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, NewError(CodeConnectivity, "", errors.Wrap(err, "suggest gas price"))
	}

	msg := ethereum.CallMsg{From: c.signer, To: &c.contract, GasPrice: gasPrice, Data: callData}
	gasLimit, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classifyCallError(err, "estimate gas")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit * 120 / 100,
		GasPrice: gasPrice,
		Data:     callData,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, NewError(CodeSigning, "", errors.Wrap(err, "sign transaction"))
	}
	return signed, nil
}

// Broadcast hands a signed transaction to the network. A nil return means
// the pending pool accepted it, not that it is final.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) error {
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		if reason, ok := revertReason(err); ok {
			return NewError(CodeLedgerCall, reason, err)
		}
		return NewError(CodeConnectivity, "", errors.Wrap(err, "broadcast transaction"))
	}
	return nil
}

// AwaitReceipt polls for the transaction's receipt until it is mined or
// the timeout elapses. On timeout the outcome is unknown: the transaction
// may still confirm, so the caller must not resubmit under a fresh nonce.
func (c *Client) AwaitReceipt(ctx context.Context, tx *types.Transaction, timeout time.Duration) (models.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, tx.Hash())
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				reason := c.replayForReason(ctx, tx, receipt.BlockNumber)
				return models.Receipt{}, NewError(CodeReverted, reason, errors.Errorf("transaction %s reverted", tx.Hash().Hex()))
			}
			return models.Receipt{
				TxHash:      tx.Hash().Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		// Transient lookup failures are treated like "not mined yet":
		// we keep polling until the deadline rather than guessing.

		select {
		case <-waitCtx.Done():
			return models.Receipt{}, NewError(CodeConfirmationTimeout, "",
				errors.Errorf("no receipt for %s within %s", tx.Hash().Hex(), timeout))
		case <-ticker.C:
		}
	}
}

// replayForReason re-executes the call at the block the transaction landed
// in, to recover the revert reason the receipt does not carry.
func (c *Client) replayForReason(ctx context.Context, tx *types.Transaction, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:     c.signer,
		To:       tx.To(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Value:    tx.Value(),
		Data:     tx.Data(),
	}
	_, err := c.backend.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	reason, _ := revertReason(err)
	return reason
}

// dataError is the shape go-ethereum RPC errors take when the node
// attaches revert data.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

func revertReason(err error) (string, bool) {
	var de dataError
	if !errors.As(err, &de) {
		return "", false
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	raw, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}

func classifyCallError(err error, op string) error {
	if reason, ok := revertReason(err); ok {
		return NewError(CodeLedgerCall, reason, err)
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return NewError(CodeLedgerCall, "", err)
	}
	return NewError(CodeConnectivity, "", errors.Wrap(err, op))
}
