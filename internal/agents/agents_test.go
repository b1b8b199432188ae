package agents_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/agents"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

func shellAgent(name, script string) agents.CommandAgent {
	return agents.CommandAgent{
		AgentName: name,
		Command:   "/bin/sh",
		Args:      []string{"-c", script},
		Timeout:   10 * time.Second,
	}
}

func TestCommandAgentParsesResponse(t *testing.T) {
	a := shellAgent("groq", `cat >/dev/null; echo '{
		"valuation": 250000, "confidence": 85, "currency": "USD",
		"reasoning": "comparable sales", "risk_factors": ["flood zone"]}'`)
	resp := a.Evaluate(context.Background(), domain.EvaluationPackage{RequestID: "42"})
	if !resp.Valid() {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	if resp.Agent != "groq" {
		t.Fatalf("agent = %s", resp.Agent)
	}
	if resp.Valuation != 250000 || resp.Confidence != 85 {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.RiskFactors) != 1 {
		t.Fatalf("risk factors = %v", resp.RiskFactors)
	}
}

func TestCommandAgentExitFailure(t *testing.T) {
	a := shellAgent("groq", "echo 'model quota exceeded' >&2; exit 1")
	resp := a.Evaluate(context.Background(), domain.EvaluationPackage{})
	if resp.Valid() {
		t.Fatal("expected failed response")
	}
	if !strings.Contains(resp.Error, "model quota exceeded") {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestCommandAgentTimeout(t *testing.T) {
	a := agents.CommandAgent{
		AgentName: "slow",
		Command:   "/bin/sh",
		Args:      []string{"-c", "sleep 5"},
		Timeout:   100 * time.Millisecond,
	}
	resp := a.Evaluate(context.Background(), domain.EvaluationPackage{})
	if resp.Valid() || !strings.Contains(resp.Error, "timeout") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCommandAgentBadJSON(t *testing.T) {
	a := shellAgent("groq", "cat >/dev/null; echo 'not json'")
	resp := a.Evaluate(context.Background(), domain.EvaluationPackage{})
	if resp.Valid() || !strings.Contains(resp.Error, "parse response") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCommandAgentRejectsOutOfRangeValues(t *testing.T) {
	neg := shellAgent("a", `cat >/dev/null; echo '{"valuation": -5, "confidence": 50}'`)
	if resp := neg.Evaluate(context.Background(), domain.EvaluationPackage{}); resp.Valid() {
		t.Fatal("negative valuation must fail")
	}
	over := shellAgent("b", `cat >/dev/null; echo '{"valuation": 100, "confidence": 150}'`)
	if resp := over.Evaluate(context.Background(), domain.EvaluationPackage{}); resp.Valid() {
		t.Fatal("confidence over 100 must fail")
	}
}

func TestCommandAgentPassesThroughAgentError(t *testing.T) {
	a := shellAgent("groq", `cat >/dev/null; echo '{"error": "upstream model refused"}'`)
	resp := a.Evaluate(context.Background(), domain.EvaluationPackage{})
	if resp.Valid() {
		t.Fatal("expected failed response")
	}
	if resp.Error != "upstream model refused" || resp.Agent != "groq" {
		t.Fatalf("response = %+v", resp)
	}
}
