package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/AustinJeremiah05/Prop99/internal/agents"
	"github.com/AustinJeremiah05/Prop99/internal/config"
	"github.com/AustinJeremiah05/Prop99/internal/consensus"
	"github.com/AustinJeremiah05/Prop99/internal/evidence"
	"github.com/AustinJeremiah05/Prop99/internal/events"
	"github.com/AustinJeremiah05/Prop99/internal/ledger"
	"github.com/AustinJeremiah05/Prop99/internal/measurement"
	"github.com/AustinJeremiah05/Prop99/internal/ocr"
	"github.com/AustinJeremiah05/Prop99/internal/pricing"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
)

// Build wires a production orchestrator from configuration. Secrets are
// resolved from the environment variables the config names.
func Build(ctx context.Context, conn *sql.DB, cfg *config.Config) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	r := repo.Repo{DB: conn}

	poolAgents := make([]agents.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		poolAgents = append(poolAgents, agents.CommandAgent{
			AgentName: a.Name,
			Command:   a.Command,
			Args:      a.Args,
			Timeout:   a.Timeout(),
		})
	}

	submitter, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:        cfg.Ledger.RPCURL,
		ChainID:       cfg.Ledger.ChainID,
		RouterAddress: cfg.Ledger.RouterAddress,
		PrivateKeyHex: os.Getenv(cfg.Ledger.PrivateKeyEnv),
		GasLimit:      cfg.Ledger.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	o := &Orchestrator{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{DB: conn},
		Config: cfg,
		Measurement: measurement.CommandClient{
			Command: cfg.Measurement.Command,
			Args:    cfg.Measurement.Args,
			Timeout: cfg.MeasurementTimeout(),
		},
		Pool: agents.Pool{
			Agents:   poolAgents,
			Currency: cfg.Consensus.Currency,
		},
		Consensus: consensus.Engine{
			MinValidResponses: cfg.Consensus.MinValidResponses,
			ConfidenceFloor:   cfg.Consensus.ConfidenceFloor,
		},
		Archiver: evidence.Archiver{
			Storage: evidence.PinataStorage{
				BaseURL: cfg.Storage.PinataBaseURL,
				JWT:     os.Getenv(cfg.Storage.PinataJWTEnv),
			},
			Repo: r,
		},
		Submitter: submitter,
	}
	if cfg.OCR.Enabled {
		o.Extractor = ocr.Client{
			BaseURL:    cfg.OCR.BaseURL,
			APIKey:     os.Getenv(cfg.OCR.APIKeyEnv),
			GatewayURL: cfg.Storage.GatewayURL,
		}
	}
	if cfg.Pricing.Enabled {
		o.Pricing = pricing.Client{
			APIKey: os.Getenv(cfg.Pricing.APIKeyEnv),
			CSEID:  os.Getenv(cfg.Pricing.CSEIDEnv),
		}
	}
	return o, nil
}
