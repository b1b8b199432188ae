package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// SubmissionError means the on-chain call failed. It is fatal for the
// current run; retries happen as fresh orchestration runs keyed by the
// same request id, never as a resend of a stale transaction.
type SubmissionError struct {
	Cause error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("ledger submission: %v", e.Cause) }
func (e *SubmissionError) Unwrap() error { return e.Cause }

// Rejection sentinel: submitVerification(requestId, 0, 1) means
// "processed, explicitly rejected". The router contract requires
// confidence > 0, so confidence 1 with valuation 0 is reserved for this
// pair and the consensus engine never emits it.
const (
	RejectionValuation  = 0
	RejectionConfidence = 1
)

// Submitter commits one outcome per request to the ledger. The router
// contract, not the submitter, is the authority on duplicate submissions.
type Submitter interface {
	SubmitVerification(ctx context.Context, requestID string, valuation float64, confidence int) (string, error)
	SubmitRejection(ctx context.Context, requestID, reason string) (string, error)
}

const routerABIJSON = `[{"inputs":[{"name":"_requestId","type":"uint256"},{"name":"_valuation","type":"uint256"},{"name":"_confidence","type":"uint256"}],"name":"submitVerification","outputs":[],"stateMutability":"nonpayable","type":"function"},{"anonymous":false,"inputs":[{"indexed":true,"name":"requestId","type":"uint256"},{"indexed":false,"name":"latitudeE6","type":"int256"},{"indexed":false,"name":"longitudeE6","type":"int256"},{"indexed":false,"name":"documentCids","type":"string[]"}],"name":"VerificationRequested","type":"event"}]`

// RouterABI is the parsed OracleRouter interface shared by the submitter
// and the event watcher.
var RouterABI = mustParseABI(routerABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Config for the Ethereum-backed submitter and watcher.
type Config struct {
	RPCURL        string
	ChainID       int64
	RouterAddress string
	PrivateKeyHex string
	GasLimit      uint64
}

// EthSubmitter signs and sends OracleRouter transactions.
type EthSubmitter struct {
	client  *ethclient.Client
	chainID *big.Int
	router  common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	gas     uint64
}

// Dial connects to the RPC endpoint and prepares the signing account.
func Dial(ctx context.Context, cfg Config) (*EthSubmitter, error) {
	if cfg.RouterAddress == "" {
		return nil, fmt.Errorf("router address not configured")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("oracle private key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	gas := cfg.GasLimit
	if gas == 0 {
		gas = 500000
	}
	return &EthSubmitter{
		client:  client,
		chainID: big.NewInt(cfg.ChainID),
		router:  common.HexToAddress(cfg.RouterAddress),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		gas:     gas,
	}, nil
}

// Client exposes the underlying RPC client for the watcher.
func (s *EthSubmitter) Client() *ethclient.Client { return s.client }

// Router returns the router contract address.
func (s *EthSubmitter) Router() common.Address { return s.router }

func (s *EthSubmitter) SubmitVerification(ctx context.Context, requestID string, valuation float64, confidence int) (string, error) {
	if confidence <= 0 {
		return "", &SubmissionError{Cause: fmt.Errorf("ledger requires confidence > 0, got %d", confidence)}
	}
	return s.submit(ctx, requestID, valuation, confidence)
}

// SubmitRejection commits the reserved sentinel pair for a processed but
// rejected request. The reason stays in the evidence bundle; the ledger
// only sees the sentinel.
func (s *EthSubmitter) SubmitRejection(ctx context.Context, requestID, reason string) (string, error) {
	_ = reason
	return s.submit(ctx, requestID, RejectionValuation, RejectionConfidence)
}

func (s *EthSubmitter) submit(ctx context.Context, requestID string, valuation float64, confidence int) (string, error) {
	reqID, ok := new(big.Int).SetString(requestID, 10)
	if !ok {
		return "", &SubmissionError{Cause: fmt.Errorf("request id %q is not a decimal uint256", requestID)}
	}
	val := new(big.Int).SetUint64(uint64(math.Round(valuation)))
	data, err := RouterABI.Pack("submitVerification", reqID, val, big.NewInt(int64(confidence)))
	if err != nil {
		return "", &SubmissionError{Cause: fmt.Errorf("pack call: %w", err)}
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", &SubmissionError{Cause: fmt.Errorf("nonce: %w", err)}
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &SubmissionError{Cause: fmt.Errorf("gas price: %w", err)}
	}

	tx := types.NewTransaction(nonce, s.router, big.NewInt(0), s.gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", &SubmissionError{Cause: fmt.Errorf("sign: %w", err)}
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", &SubmissionError{Cause: fmt.Errorf("send: %w", err)}
	}
	return signed.Hash().Hex(), nil
}

// RejectionOutcome reports whether an outcome pair is the reserved
// rejection sentinel.
func RejectionOutcome(valuation float64, confidence int) bool {
	return valuation == RejectionValuation && confidence == RejectionConfidence
}
