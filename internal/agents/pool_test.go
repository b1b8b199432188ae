package agents_test

import (
	"context"
	"strings"
	"testing"

	"github.com/AustinJeremiah05/Prop99/internal/agents"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

type stubAgent struct {
	name string
	resp domain.AgentResponse
	boom bool
}

func (a stubAgent) Name() string { return a.name }

func (a stubAgent) Evaluate(ctx context.Context, pkg domain.EvaluationPackage) domain.AgentResponse {
	if a.boom {
		panic("stub agent exploded")
	}
	return a.resp
}

func TestPoolReturnsOneResponsePerAgentInOrder(t *testing.T) {
	pool := agents.Pool{Agents: []agents.Agent{
		stubAgent{name: "alpha", resp: domain.AgentResponse{Agent: "alpha", Valuation: 100000, Confidence: 90, Currency: "USD"}},
		stubAgent{name: "beta", resp: domain.AgentResponse{Agent: "beta", Error: "timeout after 30s"}},
		stubAgent{name: "gamma", resp: domain.AgentResponse{Agent: "gamma", Valuation: 98000, Confidence: 85, Currency: "USD"}},
	}}
	responses := pool.Evaluate(context.Background(), domain.EvaluationPackage{})
	if len(responses) != 3 {
		t.Fatalf("got %d responses, want 3", len(responses))
	}
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if responses[i].Agent != want {
			t.Fatalf("responses[%d].Agent = %s, want %s", i, responses[i].Agent, want)
		}
	}
	valid, failed := agents.Split(responses)
	if len(valid) != 2 || len(failed) != 1 {
		t.Fatalf("split = %d valid / %d failed, want 2/1", len(valid), len(failed))
	}
}

func TestPoolSurvivesAgentPanic(t *testing.T) {
	pool := agents.Pool{Agents: []agents.Agent{
		stubAgent{name: "stable", resp: domain.AgentResponse{Agent: "stable", Valuation: 50000, Confidence: 70}},
		stubAgent{name: "flaky", boom: true},
	}}
	responses := pool.Evaluate(context.Background(), domain.EvaluationPackage{})
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if !responses[0].Valid() {
		t.Fatalf("stable agent response marked failed: %s", responses[0].Error)
	}
	if responses[1].Valid() || !strings.Contains(responses[1].Error, "panic") {
		t.Fatalf("flaky agent error = %q, want panic", responses[1].Error)
	}
}

func TestPoolDemotesCurrencyMismatch(t *testing.T) {
	pool := agents.Pool{
		Currency: "USD",
		Agents: []agents.Agent{
			stubAgent{name: "usd", resp: domain.AgentResponse{Agent: "usd", Valuation: 100000, Confidence: 90, Currency: "usd"}},
			stubAgent{name: "inr", resp: domain.AgentResponse{Agent: "inr", Valuation: 8300000, Confidence: 90, Currency: "INR"}},
		},
	}
	responses := pool.Evaluate(context.Background(), domain.EvaluationPackage{})
	if !responses[0].Valid() {
		t.Fatalf("case-insensitive match should pass: %s", responses[0].Error)
	}
	if responses[1].Valid() {
		t.Fatal("INR response should be demoted to failed")
	}
	if !strings.Contains(responses[1].Error, "currency mismatch") {
		t.Fatalf("error = %q, want currency mismatch", responses[1].Error)
	}
}

func TestPoolEmptyCurrencySkipsCheck(t *testing.T) {
	pool := agents.Pool{Agents: []agents.Agent{
		stubAgent{name: "a", resp: domain.AgentResponse{Agent: "a", Valuation: 1, Confidence: 1, Currency: "EUR"}},
	}}
	responses := pool.Evaluate(context.Background(), domain.EvaluationPackage{})
	if !responses[0].Valid() {
		t.Fatalf("unexpected failure: %s", responses[0].Error)
	}
}
