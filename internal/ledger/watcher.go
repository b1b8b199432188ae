package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// coordinateScale is the fixed-point factor for coordinates stored
// on-chain as int256.
const coordinateScale = 1e6

// LogClient is the slice of the RPC client the watcher needs.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Watcher polls the router contract for VerificationRequested events and
// hands each decoded request to Handle. It is the intake side of the
// oracle: one long-running loop, no shared state with orchestration runs.
type Watcher struct {
	Client   LogClient
	Router   common.Address
	Interval time.Duration
	Handle   func(ctx context.Context, req domain.VerificationRequest)

	fromBlock uint64
}

type verificationRequestedData struct {
	LatitudeE6   *big.Int `abi:"latitudeE6"`
	LongitudeE6  *big.Int `abi:"longitudeE6"`
	DocumentCids []string `abi:"documentCids"`
}

// Run polls until ctx is cancelled. Transient RPC failures are logged
// and retried on the next tick; the cursor only advances past blocks
// whose logs were delivered to Handle.
func (w *Watcher) Run(ctx context.Context) error {
	if w.Handle == nil {
		return fmt.Errorf("watcher: no handler configured")
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if w.fromBlock == 0 {
		head, err := w.Client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("watcher: initial block number: %w", err)
		}
		w.fromBlock = head + 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := w.poll(ctx); err != nil {
			log.Printf("watcher: poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	head, err := w.Client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < w.fromBlock {
		return nil
	}
	event := RouterABI.Events["VerificationRequested"]
	logs, err := w.Client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.fromBlock),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.Router},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		return err
	}
	for _, entry := range logs {
		req, err := DecodeRequest(entry)
		if err != nil {
			log.Printf("watcher: skip undecodable log in tx %s: %v", entry.TxHash.Hex(), err)
			continue
		}
		w.Handle(ctx, req)
	}
	w.fromBlock = head + 1
	return nil
}

// DecodeRequest turns a VerificationRequested log into a request value,
// scaling coordinates back from on-chain fixed point.
func DecodeRequest(entry types.Log) (domain.VerificationRequest, error) {
	if len(entry.Topics) < 2 {
		return domain.VerificationRequest{}, fmt.Errorf("missing request id topic")
	}
	requestID := new(big.Int).SetBytes(entry.Topics[1].Bytes())
	var data verificationRequestedData
	if err := RouterABI.UnpackIntoInterface(&data, "VerificationRequested", entry.Data); err != nil {
		return domain.VerificationRequest{}, fmt.Errorf("unpack event data: %w", err)
	}
	lat, _ := new(big.Float).Quo(new(big.Float).SetInt(data.LatitudeE6), big.NewFloat(coordinateScale)).Float64()
	lon, _ := new(big.Float).Quo(new(big.Float).SetInt(data.LongitudeE6), big.NewFloat(coordinateScale)).Float64()
	return domain.VerificationRequest{
		RequestID:    requestID.String(),
		Latitude:     lat,
		Longitude:    lon,
		DocumentCIDs: data.DocumentCids,
	}, nil
}
