package server

import (
	"context"
	"log"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/orchestrator"
)

const (
	defaultDispatchInterval = 2 * time.Second
	dispatchBatchSize       = 10
)

// Dispatcher drains queued requests through the orchestration pipeline
// in the background.
type Dispatcher struct {
	Orchestrator *orchestrator.Orchestrator
	Interval     time.Duration

	wake chan struct{}
}

func NewDispatcher(o *orchestrator.Orchestrator, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	return &Dispatcher{
		Orchestrator: o,
		Interval:     interval,
		wake:         make(chan struct{}, 1),
	}
}

// Wake nudges the dispatcher to run a pass before the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, processing pending requests one
// pass at a time.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) pass(ctx context.Context) {
	pending, err := d.Orchestrator.Repo.PendingRequests(ctx, dispatchBatchSize)
	if err != nil {
		log.Printf("dispatcher: list pending: %v", err)
		return
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return
		}
		req := domain.VerificationRequest{
			RequestID:    rec.RequestID,
			Latitude:     rec.Latitude,
			Longitude:    rec.Longitude,
			DocumentCIDs: rec.DocumentCIDs,
		}
		if _, err := d.Orchestrator.Run(ctx, req); err != nil {
			log.Printf("dispatcher: request %s: %v", rec.RequestID, err)
		}
	}
}
