package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/AustinJeremiah05/Prop99/internal/agents"
	"github.com/AustinJeremiah05/Prop99/internal/config"
	"github.com/AustinJeremiah05/Prop99/internal/consensus"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/events"
	"github.com/AustinJeremiah05/Prop99/internal/ledger"
	"github.com/AustinJeremiah05/Prop99/internal/measurement"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
)

// AgentPool fans an evaluation package out to every configured agent and
// returns one response per agent regardless of individual failures.
type AgentPool interface {
	Evaluate(ctx context.Context, pkg domain.EvaluationPackage) []domain.AgentResponse
}

// Archiver persists the evidence bundle and returns its content reference.
type Archiver interface {
	Archive(ctx context.Context, bundle domain.EvidenceBundle) (string, error)
}

// DocumentExtractor turns content-addressed documents into text for the
// evaluation package. Extraction failures degrade to empty text.
type DocumentExtractor interface {
	ExtractAll(ctx context.Context, cids []string) []string
}

// MarketHinter supplies optional comparable-market context.
type MarketHinter interface {
	Hint(ctx context.Context, latitude, longitude float64) (*domain.MarketHint, error)
}

// Orchestrator owns the request lifecycle. It is the only component with
// end-to-end failure policy: every stage error becomes a terminal
// Failed(stage, cause) record, and a retry is a fresh run for the same
// request id, never a resume.
type Orchestrator struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Measurement measurement.Client
	Pool        AgentPool
	Consensus   consensus.Engine
	Archiver    Archiver
	Submitter   ledger.Submitter
	Extractor   DocumentExtractor
	Pricing     MarketHinter
	Now         func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ensureTransition enforces the one-directional stage machine. There is
// no retry-in-place edge: nothing transitions out of a terminal stage.
func ensureTransition(oldStage, newStage string) error {
	ok := false
	switch oldStage {
	case domain.StageReceived:
		ok = newStage == domain.StageMeasurementFetched
	case domain.StageMeasurementFetched:
		ok = newStage == domain.StageAgentsEvaluated
	case domain.StageAgentsEvaluated:
		ok = newStage == domain.StageConsensusComputed
	case domain.StageConsensusComputed:
		ok = newStage == domain.StageEvidenceArchived
	case domain.StageEvidenceArchived:
		ok = newStage == domain.StageSubmittedVerified || newStage == domain.StageSubmittedRejected
	}
	if !ok && newStage == domain.StageFailed {
		// any non-terminal stage may fail
		switch oldStage {
		case domain.StageSubmittedVerified, domain.StageSubmittedRejected, domain.StageFailed:
		default:
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("invalid stage transition %s -> %s", oldStage, newStage)
	}
	return nil
}

// Accept records a newly received request. Safe to call more than once
// for the same request id; the first row wins.
func (o *Orchestrator) Accept(ctx context.Context, req domain.VerificationRequest) error {
	if req.RequestID == "" {
		return errors.New("request id is required")
	}
	now := o.now().UTC().Format(time.RFC3339)
	rec := domain.RequestRecord{
		RequestID:    req.RequestID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		DocumentCIDs: req.DocumentCIDs,
		Stage:        domain.StageReceived,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.Repo.InsertRequest(ctx, rec); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Events.Append(ctx, tx, "request.received", req.RequestID, domain.StageReceived, events.EventPayload{
		"latitude":  req.Latitude,
		"longitude": req.Longitude,
		"documents": len(req.DocumentCIDs),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Run drives one request through the full pipeline. Each stage boundary
// is a hard sequence point: a stage never observes partial state from
// its predecessor, and a stage error ends the run.
func (o *Orchestrator) Run(ctx context.Context, req domain.VerificationRequest) (domain.RequestRecord, error) {
	started := o.now()
	runID := uuid.NewString()
	log.Printf("orchestrator: request %s: starting pipeline (run %s)", req.RequestID, runID)

	rec, err := o.Repo.GetRequest(ctx, req.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		if err := o.Accept(ctx, req); err != nil {
			return domain.RequestRecord{}, err
		}
		rec, err = o.Repo.GetRequest(ctx, req.RequestID)
	}
	if err != nil {
		return domain.RequestRecord{}, err
	}
	if rec.Stage != domain.StageReceived {
		return rec, fmt.Errorf("request %s already in stage %s; restart requires a fresh request row", req.RequestID, rec.Stage)
	}

	// Stage 1: measurement. No measurement means no evaluable package.
	record, err := o.Measurement.Fetch(ctx, req.Latitude, req.Longitude)
	if err != nil {
		return o.fail(ctx, rec, domain.StageMeasurementFetched, err)
	}
	if err := o.advance(ctx, &rec, domain.StageMeasurementFetched, "measurement.fetched", events.EventPayload{
		"run_id":   runID,
		"area_sqm": record.AreaSqm,
		"provider": record.Provider,
	}); err != nil {
		return rec, err
	}

	pkg := o.buildPackage(ctx, req, record)

	// Stage 2: agent fan-out. The pool always returns; whether enough
	// agents survived is the consensus engine's call.
	responses := o.Pool.Evaluate(ctx, pkg)
	valid, failed := agents.Split(responses)
	for _, r := range failed {
		log.Printf("orchestrator: request %s: agent %s failed: %s", req.RequestID, r.Agent, r.Error)
	}
	if err := o.advance(ctx, &rec, domain.StageAgentsEvaluated, "agents.evaluated", events.EventPayload{
		"run_id": runID,
		"valid":  len(valid),
		"failed": len(failed),
	}); err != nil {
		return rec, err
	}

	// Stage 3: consensus.
	result, err := o.Consensus.Reduce(valid)
	if err != nil {
		return o.fail(ctx, rec, domain.StageConsensusComputed, err)
	}
	rejected, rejectReason := o.rejectionFor(result)
	if err := o.advance(ctx, &rec, domain.StageConsensusComputed, "consensus.computed", events.EventPayload{
		"run_id":           runID,
		"final_valuation":  result.FinalValuation,
		"final_confidence": result.FinalConfidence,
		"consensus_score":  result.ConsensusScore,
		"rejected":         rejected,
	}); err != nil {
		return rec, err
	}

	// Stage 4: evidence. No ledger submission without persisted evidence.
	bundle := domain.EvidenceBundle{
		RequestID:      req.RequestID,
		Valuation:      result.FinalValuation,
		Confidence:     result.FinalConfidence,
		Rejected:       rejected,
		RejectReason:   rejectReason,
		Measurement:    record,
		AgentResponses: responses,
		Consensus:      &result,
		Timestamp:      o.now().UTC().Format(time.RFC3339),
	}
	cid, err := o.Archiver.Archive(ctx, bundle)
	if err != nil {
		return o.fail(ctx, rec, domain.StageEvidenceArchived, err)
	}
	rec.EvidenceCID = cid
	if err := o.advance(ctx, &rec, domain.StageEvidenceArchived, "evidence.archived", events.EventPayload{
		"run_id": runID,
		"cid":    cid,
	}); err != nil {
		return rec, err
	}

	// Stage 5: ledger. The router contract owns duplicate detection.
	var (
		txHash     string
		finalStage string
		valuation  float64
		confidence int
	)
	if rejected {
		txHash, err = o.Submitter.SubmitRejection(ctx, req.RequestID, rejectReason)
		finalStage = domain.StageSubmittedRejected
		valuation = ledger.RejectionValuation
		confidence = ledger.RejectionConfidence
	} else {
		txHash, err = o.Submitter.SubmitVerification(ctx, req.RequestID, result.FinalValuation, result.FinalConfidence)
		finalStage = domain.StageSubmittedVerified
		valuation = result.FinalValuation
		confidence = result.FinalConfidence
	}
	if err != nil {
		return o.fail(ctx, rec, finalStage, err)
	}
	rec.TxHash = txHash
	if err := o.complete(ctx, &rec, finalStage, valuation, confidence, txHash); err != nil {
		return rec, err
	}

	log.Printf("orchestrator: request %s: %s in %.2fs (tx %s)",
		req.RequestID, finalStage, o.now().Sub(started).Seconds(), txHash)
	return rec, nil
}

// buildPackage assembles the agent input. Document extraction and market
// hints are best-effort preprocessing; neither can fail the request.
func (o *Orchestrator) buildPackage(ctx context.Context, req domain.VerificationRequest, record domain.MeasurementRecord) domain.EvaluationPackage {
	pkg := domain.EvaluationPackage{
		RequestID:     req.RequestID,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		Measurement:   record,
		DocumentCount: len(req.DocumentCIDs),
		DocumentCIDs:  req.DocumentCIDs,
	}
	if o.Extractor != nil && len(req.DocumentCIDs) > 0 {
		pkg.DocumentTexts = o.Extractor.ExtractAll(ctx, req.DocumentCIDs)
	}
	if o.Pricing != nil {
		hint, err := o.Pricing.Hint(ctx, req.Latitude, req.Longitude)
		if err != nil {
			log.Printf("orchestrator: request %s: market hint unavailable: %v", req.RequestID, err)
		} else {
			pkg.MarketHint = hint
		}
	}
	return pkg
}

// rejectionFor decides whether a computed consensus is a rejection. A
// rejection is a valid business outcome committed through the explicit
// rejection path, not a pipeline failure.
func (o *Orchestrator) rejectionFor(result domain.ConsensusResult) (bool, string) {
	threshold := 0
	if o.Config != nil {
		threshold = o.Config.Consensus.RejectBelowConfidence
	}
	if threshold > 0 && result.FinalConfidence < threshold {
		return true, fmt.Sprintf("panel confidence %d below threshold %d", result.FinalConfidence, threshold)
	}
	if result.FinalValuation <= 0 {
		return true, "panel valuation is zero"
	}
	return false, ""
}

func (o *Orchestrator) advance(ctx context.Context, rec *domain.RequestRecord, stage, eventType string, payload events.EventPayload) error {
	if err := ensureTransition(rec.Stage, stage); err != nil {
		return err
	}
	now := o.now().UTC().Format(time.RFC3339)
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Repo.SetRequestStage(ctx, tx, rec.RequestID, stage, now); err != nil {
		return err
	}
	if rec.EvidenceCID != "" && stage == domain.StageEvidenceArchived {
		if err := o.Repo.SetRequestEvidence(ctx, tx, rec.RequestID, rec.EvidenceCID, now); err != nil {
			return err
		}
	}
	if err := o.Events.Append(ctx, tx, eventType, rec.RequestID, stage, payload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Stage = stage
	rec.UpdatedAt = now
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, rec *domain.RequestRecord, stage string, valuation float64, confidence int, txHash string) error {
	if err := ensureTransition(rec.Stage, stage); err != nil {
		return err
	}
	now := o.now().UTC().Format(time.RFC3339)
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Repo.SetRequestStage(ctx, tx, rec.RequestID, stage, now); err != nil {
		return err
	}
	if err := o.Repo.SetRequestOutcome(ctx, tx, rec.RequestID, valuation, confidence, txHash, now); err != nil {
		return err
	}
	if err := o.Events.Append(ctx, tx, "submission.confirmed", rec.RequestID, stage, events.EventPayload{
		"valuation":  valuation,
		"confidence": confidence,
		"tx_hash":    txHash,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Stage = stage
	rec.Valuation = &valuation
	rec.Confidence = &confidence
	rec.UpdatedAt = now
	return nil
}

// fail records the terminal failure with its originating stage and
// returns the stage-wrapped cause.
func (o *Orchestrator) fail(ctx context.Context, rec domain.RequestRecord, stage string, cause error) (domain.RequestRecord, error) {
	wrapped := fmt.Errorf("stage %s: %w", stage, cause)
	log.Printf("orchestrator: request %s: %v", rec.RequestID, wrapped)
	now := o.now().UTC().Format(time.RFC3339)
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, errors.Join(wrapped, err)
	}
	defer tx.Rollback()
	if err := o.Repo.MarkRequestFailed(ctx, tx, rec.RequestID, stage, cause.Error(), now); err != nil {
		return rec, errors.Join(wrapped, err)
	}
	if err := o.Events.Append(ctx, tx, "request.failed", rec.RequestID, stage, events.EventPayload{
		"cause": cause.Error(),
	}); err != nil {
		return rec, errors.Join(wrapped, err)
	}
	if err := tx.Commit(); err != nil {
		return rec, errors.Join(wrapped, err)
	}
	rec.Stage = domain.StageFailed
	rec.FailedStage = stage
	rec.FailCause = cause.Error()
	rec.UpdatedAt = now
	return rec, wrapped
}
