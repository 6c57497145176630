// Copyright 2025 GridTokenX
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/semaphore"
)

// ConfirmStatus is the outcome of ConfirmTransaction.
type ConfirmStatus int

const (
	Confirmed ConfirmStatus = iota
	TimedOut
	Failed
)

func (s ConfirmStatus) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Client wraps an ethclient connection plus the bounded-concurrency
// confirmation pool spec.md §5 requires (at most ChainMaxInFlight polls in
// flight at once, protecting the RPC endpoint). Grounded on the teacher's
// pkg/ethereum.Client.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	confirm *semaphore.Weighted
}

// NewClient dials url and caps confirmation polling concurrency at
// maxInFlight (spec.md §5: "bounded concurrency, ≤ 32 in flight").
func NewClient(url string, chainID int64, maxInFlight int64) (*Client, error) {
	eth, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	if maxInFlight <= 0 {
		maxInFlight = 32
	}
	return &Client{eth: eth, chainID: big.NewInt(chainID), confirm: semaphore.NewWeighted(maxInFlight)}, nil
}

// LoadAuthorityKeypair reads the gateway's own signing key from keyPath.
// The file holds a hex-encoded secp256k1 private key, with or without a
// leading "0x", one key per deploy (no rotation path — rotation applies
// only to user custody wallets, see pkg/wallet). Grounded on the
// teacher's pkg/crypto/bls InitializeValidatorBLSKey's load-or-generate
// shape, minus the generate branch: an authority key that doesn't exist
// yet is an operator error, not something to synthesize at startup.
func LoadAuthorityKeypair(keyPath string) (*ecdsa.PrivateKey, error) {
	if keyPath == "" {
		return nil, errors.New("authority keypair path not configured")
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read authority keypair: %w", err)
	}
	hexKey := strings.TrimSpace(strings.TrimPrefix(string(raw), "0x"))
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse authority keypair: %w", err)
	}
	return key, nil
}

const batchExecuteABI = `[{"name":"batchExecute","type":"function","inputs":[
	{"name":"targets","type":"address[]"},
	{"name":"datas","type":"bytes[]"}]}]`

// batch combines N instructions into the calldata of a single on-chain
// transaction, satisfying spec.md §4B's "transaction submission wraps N
// instructions into one atomic on-chain transaction". A single
// instruction is sent as-is; more than one is wrapped in a generic
// batchExecute call against the first instruction's program, which the
// on-chain trading program exposes precisely for this purpose.
func batch(instructions []Instruction) (target common.Address, data []byte, err error) {
	if len(instructions) == 0 {
		return common.Address{}, nil, errors.New("no instructions to submit")
	}
	if len(instructions) == 1 {
		return instructions[0].ProgramID, instructions[0].Data, nil
	}

	targets := make([]common.Address, len(instructions))
	datas := make([][]byte, len(instructions))
	for i, ix := range instructions {
		targets[i] = ix.ProgramID
		datas[i] = ix.Data
	}

	parsed, err := abi.JSON(strings.NewReader(batchExecuteABI))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("parse batch abi: %w", err)
	}
	packed, err := parsed.Pack("batchExecute", targets, datas)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack batch call: %w", err)
	}
	return instructions[0].ProgramID, packed, nil
}

// SubmitTransaction signs and broadcasts instructions as one atomic
// on-chain transaction, returning the transaction hash used as the
// settlement attempt's external_signature.
func (c *Client) SubmitTransaction(ctx context.Context, signer *ecdsa.PrivateKey, instructions []Instruction) (string, error) {
	target, data, err := batch(instructions)
	if err != nil {
		return "", err
	}

	publicKeyECDSA, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok {
		return "", errors.New("invalid signer key")
	}
	from := crypto.PubkeyToAddress(*publicKeyECDSA)

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("get gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &target, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, target, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), signer)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// ConfirmTransaction polls for signature's receipt until it lands, ctx is
// cancelled, or timeout elapses, whichever first. Acquires a slot from the
// bounded confirmation semaphore for the duration of the poll.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string, timeout time.Duration) (ConfirmStatus, error) {
	if err := c.confirm.Acquire(ctx, 1); err != nil {
		return Failed, fmt.Errorf("acquire confirmation slot: %w", err)
	}
	defer c.confirm.Release(1)

	deadline := time.Now().Add(timeout)
	hash := common.HexToHash(signature)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return Confirmed, nil
			}
			return Failed, fmt.Errorf("transaction reverted: %s", signature)
		}

		if time.Now().After(deadline) {
			return TimedOut, nil
		}

		select {
		case <-ctx.Done():
			return Failed, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Health reports whether the chain RPC endpoint is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.eth.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain health check failed: %w", err)
	}
	return nil
}

