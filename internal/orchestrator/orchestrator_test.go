package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/config"
	"github.com/AustinJeremiah05/Prop99/internal/consensus"
	"github.com/AustinJeremiah05/Prop99/internal/db"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/events"
	"github.com/AustinJeremiah05/Prop99/internal/orchestrator"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
)

type fakeMeasurement struct {
	rec domain.MeasurementRecord
	err error
}

func (f fakeMeasurement) Fetch(ctx context.Context, lat, lon float64) (domain.MeasurementRecord, error) {
	return f.rec, f.err
}

type fakePool struct {
	responses []domain.AgentResponse
}

func (f fakePool) Evaluate(ctx context.Context, pkg domain.EvaluationPackage) []domain.AgentResponse {
	return f.responses
}

type fakeArchiver struct {
	cid     string
	err     error
	bundles []domain.EvidenceBundle
}

func (f *fakeArchiver) Archive(ctx context.Context, bundle domain.EvidenceBundle) (string, error) {
	f.bundles = append(f.bundles, bundle)
	if f.err != nil {
		return "", f.err
	}
	return f.cid, nil
}

type fakeSubmitter struct {
	err        error
	verified   []string
	rejections []string
	valuation  float64
	confidence int
	reason     string
}

func (f *fakeSubmitter) SubmitVerification(ctx context.Context, requestID string, valuation float64, confidence int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.verified = append(f.verified, requestID)
	f.valuation = valuation
	f.confidence = confidence
	return "0xverified", nil
}

func (f *fakeSubmitter) SubmitRejection(ctx context.Context, requestID, reason string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.rejections = append(f.rejections, requestID)
	f.reason = reason
	return "0xrejected", nil
}

func goodMeasurement() domain.MeasurementRecord {
	return domain.MeasurementRecord{
		AreaSqm:          2000,
		NDVI:             0.6,
		CloudCoverage:    8,
		ResolutionMeters: 10,
		Provider:         "sentinel-2",
		CapturedAt:       "2026-08-01T09:00:00Z",
	}
}

func goodResponses() []domain.AgentResponse {
	return []domain.AgentResponse{
		{Agent: "groq", Valuation: 100000, Confidence: 90, Currency: "USD"},
		{Agent: "openrouter", Valuation: 102000, Confidence: 85, Currency: "USD"},
		{Agent: "gemini", Valuation: 98000, Confidence: 95, Currency: "USD"},
	}
}

type testEnv struct {
	O         *orchestrator.Orchestrator
	Repo      repo.Repo
	Archiver  *fakeArchiver
	Submitter *fakeSubmitter
	Ctx       context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	r := repo.Repo{DB: conn}
	archiver := &fakeArchiver{cid: "QmEvidence1"}
	submitter := &fakeSubmitter{}
	cfg := &config.Config{}
	cfg.Consensus.RejectBelowConfidence = 30
	o := &orchestrator.Orchestrator{
		DB:          conn,
		Repo:        r,
		Events:      events.Writer{DB: conn},
		Config:      cfg,
		Measurement: fakeMeasurement{rec: goodMeasurement()},
		Pool:        fakePool{responses: goodResponses()},
		Consensus:   consensus.Engine{},
		Archiver:    archiver,
		Submitter:   submitter,
		Now:         func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) },
	}
	return testEnv{O: o, Repo: r, Archiver: archiver, Submitter: submitter, Ctx: context.Background()}
}

func request() domain.VerificationRequest {
	return domain.VerificationRequest{
		RequestID:    "42",
		Latitude:     12.97,
		Longitude:    77.59,
		DocumentCIDs: []string{"QmDeed"},
	}
}

func TestRunHappyPath(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.O.Run(env.Ctx, request())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stage != domain.StageSubmittedVerified {
		t.Fatalf("stage = %s", rec.Stage)
	}
	if rec.EvidenceCID != "QmEvidence1" {
		t.Fatalf("evidence cid = %s", rec.EvidenceCID)
	}
	if rec.TxHash != "0xverified" {
		t.Fatalf("tx hash = %s", rec.TxHash)
	}
	if rec.Valuation == nil || *rec.Valuation < 99000 || *rec.Valuation > 101000 {
		t.Fatalf("valuation = %v", rec.Valuation)
	}
	if len(env.Submitter.verified) != 1 || env.Submitter.verified[0] != "42" {
		t.Fatalf("submitter calls = %v", env.Submitter.verified)
	}
	if env.Submitter.confidence != 90 {
		t.Fatalf("submitted confidence = %d", env.Submitter.confidence)
	}

	// evidence bundle must carry the full run, failed responses included
	if len(env.Archiver.bundles) != 1 {
		t.Fatalf("archived %d bundles", len(env.Archiver.bundles))
	}
	bundle := env.Archiver.bundles[0]
	if len(bundle.AgentResponses) != 3 || bundle.Consensus == nil {
		t.Fatalf("bundle incomplete: %+v", bundle)
	}

	evts, err := env.Repo.EventsForRequest(env.Ctx, "42", 50)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"request.received", "measurement.fetched", "agents.evaluated", "consensus.computed", "evidence.archived", "submission.confirmed"} {
		if !types[want] {
			t.Fatalf("missing event %s, got %v", want, types)
		}
	}
}

func TestRunMeasurementFailure(t *testing.T) {
	env := newTestEnv(t)
	env.O.Measurement = fakeMeasurement{err: fmt.Errorf("provider unreachable")}
	rec, err := env.O.Run(env.Ctx, request())
	if err == nil {
		t.Fatal("expected error")
	}
	if rec.Stage != domain.StageFailed || rec.FailedStage != domain.StageMeasurementFetched {
		t.Fatalf("stage = %s, failed at %s", rec.Stage, rec.FailedStage)
	}
	if !strings.Contains(rec.FailCause, "provider unreachable") {
		t.Fatalf("cause = %s", rec.FailCause)
	}
	if len(env.Archiver.bundles) != 0 {
		t.Fatal("evidence must not be archived for failed measurement")
	}
	if len(env.Submitter.verified)+len(env.Submitter.rejections) != 0 {
		t.Fatal("nothing may reach the ledger on failure")
	}
}

func TestRunInsufficientAgents(t *testing.T) {
	env := newTestEnv(t)
	env.O.Pool = fakePool{responses: []domain.AgentResponse{
		{Agent: "groq", Valuation: 100000, Confidence: 90},
		{Agent: "openrouter", Error: "timeout after 30s"},
		{Agent: "gemini", Error: "parse agent output: unexpected end of JSON input"},
	}}
	rec, err := env.O.Run(env.Ctx, request())
	if !errors.Is(err, consensus.ErrInsufficientResponses) {
		t.Fatalf("expected ErrInsufficientResponses, got %v", err)
	}
	if rec.Stage != domain.StageFailed || rec.FailedStage != domain.StageConsensusComputed {
		t.Fatalf("stage = %s, failed at %s", rec.Stage, rec.FailedStage)
	}
}

func TestRunRejectionPath(t *testing.T) {
	env := newTestEnv(t)
	env.O.Pool = fakePool{responses: []domain.AgentResponse{
		{Agent: "groq", Valuation: 100000, Confidence: 10, Currency: "USD"},
		{Agent: "openrouter", Valuation: 101000, Confidence: 12, Currency: "USD"},
	}}
	rec, err := env.O.Run(env.Ctx, request())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stage != domain.StageSubmittedRejected {
		t.Fatalf("stage = %s", rec.Stage)
	}
	if len(env.Submitter.rejections) != 1 {
		t.Fatalf("rejection calls = %v", env.Submitter.rejections)
	}
	if !strings.Contains(env.Submitter.reason, "below threshold") {
		t.Fatalf("reason = %s", env.Submitter.reason)
	}
	// on-ledger rejection sentinel
	if rec.Valuation == nil || *rec.Valuation != 0 {
		t.Fatalf("valuation = %v, want sentinel 0", rec.Valuation)
	}
	if rec.Confidence == nil || *rec.Confidence != 1 {
		t.Fatalf("confidence = %v, want sentinel 1", rec.Confidence)
	}
	// evidence is archived before the rejection is submitted
	if len(env.Archiver.bundles) != 1 || !env.Archiver.bundles[0].Rejected {
		t.Fatalf("bundle = %+v", env.Archiver.bundles)
	}
}

func TestRunArchiveFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Archiver.err = fmt.Errorf("pinata status 500: boom")
	rec, err := env.O.Run(env.Ctx, request())
	if err == nil {
		t.Fatal("expected error")
	}
	if rec.Stage != domain.StageFailed || rec.FailedStage != domain.StageEvidenceArchived {
		t.Fatalf("stage = %s, failed at %s", rec.Stage, rec.FailedStage)
	}
	if len(env.Submitter.verified)+len(env.Submitter.rejections) != 0 {
		t.Fatal("no submission without archived evidence")
	}
}

func TestRunSubmitFailure(t *testing.T) {
	env := newTestEnv(t)
	env.Submitter.err = fmt.Errorf("nonce too low")
	rec, err := env.O.Run(env.Ctx, request())
	if err == nil {
		t.Fatal("expected error")
	}
	if rec.Stage != domain.StageFailed || rec.FailedStage != domain.StageSubmittedVerified {
		t.Fatalf("stage = %s, failed at %s", rec.Stage, rec.FailedStage)
	}
	// evidence reference survives the failed submission
	if rec.EvidenceCID != "QmEvidence1" {
		t.Fatalf("evidence cid = %s", rec.EvidenceCID)
	}
}

func TestRunRefusesProcessedRequest(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.O.Run(env.Ctx, request()); err != nil {
		t.Fatal(err)
	}
	_, err := env.O.Run(env.Ctx, request())
	if err == nil || !strings.Contains(err.Error(), "already in stage") {
		t.Fatalf("expected already-in-stage error, got %v", err)
	}
	if len(env.Submitter.verified) != 1 {
		t.Fatalf("submitter must be called exactly once, got %d", len(env.Submitter.verified))
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.O.Accept(env.Ctx, request()); err != nil {
		t.Fatal(err)
	}
	if err := env.O.Accept(env.Ctx, request()); err != nil {
		t.Fatal(err)
	}
	rec, err := env.Repo.GetRequest(env.Ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Stage != domain.StageReceived {
		t.Fatalf("stage = %s", rec.Stage)
	}
}

func TestAcceptRequiresRequestID(t *testing.T) {
	env := newTestEnv(t)
	if err := env.O.Accept(env.Ctx, domain.VerificationRequest{}); err == nil {
		t.Fatal("expected error for empty request id")
	}
}
