package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("oracle-1")
	if cfg.Oracle.ID != "oracle-1" {
		t.Fatalf("oracle id = %s", cfg.Oracle.ID)
	}
	if len(cfg.Agents) != 3 {
		t.Fatalf("agent count = %d", len(cfg.Agents))
	}
	if cfg.Consensus.MinValidResponses != 2 {
		t.Fatalf("min valid responses = %d", cfg.Consensus.MinValidResponses)
	}
	if cfg.Ledger.ChainID != 5003 {
		t.Fatalf("chain id = %d", cfg.Ledger.ChainID)
	}
	if cfg.MeasurementTimeout() != 60*time.Second {
		t.Fatalf("measurement timeout = %s", cfg.MeasurementTimeout())
	}
	if cfg.Agents[0].Timeout() != 30*time.Second {
		t.Fatalf("agent timeout = %s", cfg.Agents[0].Timeout())
	}
}

func TestAgentTimeoutDefault(t *testing.T) {
	a := config.AgentConfig{Name: "x", Command: "y"}
	if a.Timeout() != 30*time.Second {
		t.Fatalf("default timeout = %s", a.Timeout())
	}
}

func TestValidateFailures(t *testing.T) {
	base := config.GenerateDefault("oracle-1")
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			"missing oracle id",
			func(s string) string { return strings.Replace(s, "id: oracle-1", `id: ""`, 1) },
			"oracle.id",
		},
		{
			"single agent",
			func(s string) string {
				i := strings.Index(s, "  - name: openrouter")
				j := strings.Index(s, "consensus:")
				return s[:i] + s[j:]
			},
			"at least 2 agents",
		},
		{
			"duplicate agent name",
			func(s string) string { return strings.Replace(s, "name: openrouter", "name: groq", 1) },
			"duplicate name",
		},
		{
			"min responses exceeds agents",
			func(s string) string { return strings.Replace(s, "min_valid_responses: 2", "min_valid_responses: 5", 1) },
			"exceeds agent count",
		},
		{
			"confidence floor reserves rejection sentinel",
			func(s string) string { return strings.Replace(s, "confidence_floor: 2", "confidence_floor: 1", 1) },
			"reserved for rejections",
		},
		{
			"missing rpc url",
			func(s string) string { return strings.Replace(s, "rpc_url: https://rpc.sepolia.mantle.xyz", `rpc_url: ""`, 1) },
			"rpc_url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.mutate(base)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	yml := strings.Replace(config.GenerateDefault("oracle-1"), "currency: USD", `currency: ""`, 1)
	cfg, err := config.FromYAML([]byte(yml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Consensus.Currency != "USD" {
		t.Fatalf("currency default = %s", cfg.Consensus.Currency)
	}
	if cfg.Storage.PinataBaseURL != "https://api.pinata.cloud" {
		t.Fatalf("pinata base url = %s", cfg.Storage.PinataBaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("got %v, %v", cfg, err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prop99.yml"), []byte(config.GenerateDefault("oracle-x")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.ID != "oracle-x" {
		t.Fatalf("oracle id = %s", cfg.Oracle.ID)
	}
}
