// ledger/client.go
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ABI subset of the GreenToken contract this service talks to.
const greenTokenABI = `[
  {"type":"function","name":"calculateReward","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"materialType","type":"string"},{"name":"weight","type":"uint256"}],"outputs":[{"name":"reward","type":"uint256"}]},
  {"type":"function","name":"recordRecycling","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"materialType","type":"string"},{"name":"weight","type":"uint256"},{"name":"qrHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"redeemAtBusiness","stateMutability":"nonpayable","inputs":[{"name":"business","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"RecyclingRecorded","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"qrHash","type":"bytes32","indexed":true},{"name":"tokensEarned","type":"uint256","indexed":false}]}
]`

// FallbackBaseReward is the estimator's last-resort answer when even the
// read-only contract call fails. It is only ever reported as an estimate.
const FallbackBaseReward = 10

// Ledger is the subset of the GreenToken contract the coordinators use.
// Idempotency of retried submissions is NOT assumed here; callers must
// guarantee each qrHash is submitted at most once.
type Ledger interface {
	// EstimateReward is read-only and side-effect free.
	EstimateReward(ctx context.Context, claimant string, material string, weightGrams int64) (float64, error)
	// SubmitRecycling sends recordRecycling and waits for the receipt.
	// A *OutcomeUnknownError means the transaction was broadcast but its
	// fate is unknown; anything else is a definite failure.
	SubmitRecycling(ctx context.Context, claimant string, material string, weightGrams int64, qrHash string) (*SubmitResult, error)
	// RedeemAtBusiness sends redeemAtBusiness and waits for the receipt.
	RedeemAtBusiness(ctx context.Context, business string, amount float64) (*RedeemResult, error)
	// FindRecyclingByHash looks up an already-recorded recycling by its
	// qrHash correlation key. Returns nil, nil when nothing is on chain.
	FindRecyclingByHash(ctx context.Context, qrHash string) (*SubmitResult, error)
}

// SubmitResult is a confirmed recordRecycling transaction plus its decoded
// event feed.
type SubmitResult struct {
	TxHash      string
	BlockNumber uint64
	Events      []Event
}

// RedeemResult is a confirmed redeemAtBusiness transaction.
type RedeemResult struct {
	TxHash      string
	BlockNumber uint64
}

// OutcomeUnknownError reports a broadcast whose confirmation timed out. The
// transaction may still mine; only the reconciliation sweep may resolve it.
type OutcomeUnknownError struct {
	TxHash string
}

func (e *OutcomeUnknownError) Error() string {
	return fmt.Sprintf("transaction %s outcome unknown: confirmation timed out", e.TxHash)
}

// Client talks to the GreenToken contract over an Ethereum JSON-RPC node.
type Client struct {
	eth      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int

	// CallTimeout bounds read-only calls and the broadcast itself;
	// ConfirmTimeout bounds waiting for a mined receipt.
	CallTimeout    time.Duration
	ConfirmTimeout time.Duration
}

// NewClient dials the RPC endpoint and prepares the signing identity.
func NewClient(rpcURL, contractAddress, privateKeyHex string) (*Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("blockchain RPC URL required")
	}
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial blockchain node: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(greenTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator private key: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain ID: %w", err)
	}

	return &Client{
		eth:            eth,
		abi:            parsed,
		contract:       common.HexToAddress(contractAddress),
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		chainID:        chainID,
		CallTimeout:    15 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
	}, nil
}

func (c *Client) EstimateReward(ctx context.Context, claimant string, material string, weightGrams int64) (float64, error) {
	data, err := c.abi.Pack("calculateReward", common.HexToAddress(claimant), material, big.NewInt(weightGrams))
	if err != nil {
		return 0, fmt.Errorf("failed to pack calculateReward: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	out, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("calculateReward call failed: %w", err)
	}

	vals, err := c.abi.Unpack("calculateReward", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("failed to decode calculateReward output: %w", err)
	}
	reward, ok := vals[0].(*big.Int)
	if !ok {
		return 0, errors.New("calculateReward returned a non-integer value")
	}
	return weiToTokens(reward), nil
}

func (c *Client) SubmitRecycling(ctx context.Context, claimant string, material string, weightGrams int64, qrHash string) (*SubmitResult, error) {
	var hash [32]byte = common.HexToHash(qrHash)
	data, err := c.abi.Pack("recordRecycling", common.HexToAddress(claimant), material, big.NewInt(weightGrams), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to pack recordRecycling: %w", err)
	}

	receipt, txHash, err := c.sendAndWait(ctx, data)
	if err != nil {
		return nil, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("recordRecycling transaction %s reverted", txHash)
	}

	return &SubmitResult{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Events:      DecodeEvents(receipt.Logs),
	}, nil
}

func (c *Client) RedeemAtBusiness(ctx context.Context, business string, amount float64) (*RedeemResult, error) {
	data, err := c.abi.Pack("redeemAtBusiness", common.HexToAddress(business), tokensToWei(amount))
	if err != nil {
		return nil, fmt.Errorf("failed to pack redeemAtBusiness: %w", err)
	}

	receipt, txHash, err := c.sendAndWait(ctx, data)
	if err != nil {
		return nil, err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("redeemAtBusiness transaction %s reverted", txHash)
	}

	return &RedeemResult{TxHash: txHash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (c *Client) FindRecyclingByHash(ctx context.Context, qrHash string) (*SubmitResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()

	logs, err := c.eth.FilterLogs(callCtx, ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics: [][]common.Hash{
			{RecyclingRecordedSignature},
			nil, // any user
			{common.HexToHash(qrHash)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter RecyclingRecorded logs: %w", err)
	}
	if len(logs) == 0 {
		return nil, nil
	}

	lg := logs[0]
	events := make([]Event, 0, 1)
	if ev, ok := decodeLog(&lg); ok {
		events = append(events, ev)
	}
	return &SubmitResult{
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		Events:      events,
	}, nil
}

// sendAndWait signs and broadcasts the calldata, then waits for the receipt.
// Failures before the broadcast succeeds are definite; after it, only
// *OutcomeUnknownError is returned so callers never assume the tx is lost.
func (c *Client) sendAndWait(ctx context.Context, data []byte) (*gethtypes.Receipt, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, c.from)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(callCtx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		return nil, "", fmt.Errorf("gas estimation failed: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return nil, "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	txHash := signed.Hash().Hex()

	waitCtx, cancelWait := context.WithTimeout(ctx, c.ConfirmTimeout)
	defer cancelWait()
	receipt, err := bind.WaitMined(waitCtx, c.eth, signed)
	if err != nil {
		// Broadcast went out; the tx may still mine after the deadline.
		return nil, txHash, &OutcomeUnknownError{TxHash: txHash}
	}
	return receipt, txHash, nil
}

func weiToTokens(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}

func tokensToWei(amount float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return wei
}
