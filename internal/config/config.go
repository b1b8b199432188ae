package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models prop99.yml.
type Config struct {
	Oracle struct {
		ID string `yaml:"id"`
	} `yaml:"oracle"`
	Measurement struct {
		Command        string   `yaml:"command"`
		Args           []string `yaml:"args"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"measurement"`
	Agents []AgentConfig `yaml:"agents"`
	Consensus struct {
		MinValidResponses     int    `yaml:"min_valid_responses"`
		ConfidenceFloor       int    `yaml:"confidence_floor"`
		RejectBelowConfidence int    `yaml:"reject_below_confidence"`
		Currency              string `yaml:"currency"`
	} `yaml:"consensus"`
	Ledger struct {
		RPCURL        string `yaml:"rpc_url"`
		ChainID       int64  `yaml:"chain_id"`
		RouterAddress string `yaml:"router_address"`
		PrivateKeyEnv string `yaml:"private_key_env"`
		GasLimit      uint64 `yaml:"gas_limit"`
	} `yaml:"ledger"`
	Storage struct {
		PinataBaseURL string `yaml:"pinata_base_url"`
		PinataJWTEnv  string `yaml:"pinata_jwt_env"`
		GatewayURL    string `yaml:"gateway_url"`
	} `yaml:"storage"`
	OCR struct {
		Enabled   bool   `yaml:"enabled"`
		BaseURL   string `yaml:"base_url"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"ocr"`
	Pricing struct {
		Enabled   bool   `yaml:"enabled"`
		APIKeyEnv string `yaml:"api_key_env"`
		CSEIDEnv  string `yaml:"cse_id_env"`
	} `yaml:"pricing"`
	Server struct {
		Listen    string `yaml:"listen"`
		JWTSecret string `yaml:"jwt_secret_env"`
	} `yaml:"server"`
}

// AgentConfig describes one subprocess valuation agent.
type AgentConfig struct {
	Name           string   `yaml:"name"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Timeout returns the agent deadline, defaulting to 30s.
func (a AgentConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MeasurementTimeout returns the provider deadline, defaulting to 60s.
func (c *Config) MeasurementTimeout() time.Duration {
	if c.Measurement.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Measurement.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with prop99 config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Oracle.ID == "" {
		return fmt.Errorf("config.oracle.id is required")
	}
	if c.Measurement.Command == "" {
		return fmt.Errorf("config.measurement.command is required")
	}
	if len(c.Agents) < 2 {
		return fmt.Errorf("config.agents needs at least 2 agents, have %d", len(c.Agents))
	}
	seen := map[string]bool{}
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("config.agents[%d].name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("config.agents has duplicate name %s", a.Name)
		}
		seen[a.Name] = true
		if a.Command == "" {
			return fmt.Errorf("agent %s: command is required", a.Name)
		}
	}
	if c.Consensus.MinValidResponses == 0 {
		c.Consensus.MinValidResponses = 2
	}
	if c.Consensus.MinValidResponses < 2 {
		return fmt.Errorf("config.consensus.min_valid_responses must be >= 2")
	}
	if c.Consensus.MinValidResponses > len(c.Agents) {
		return fmt.Errorf("config.consensus.min_valid_responses exceeds agent count")
	}
	if c.Consensus.ConfidenceFloor == 0 {
		c.Consensus.ConfidenceFloor = 2
	}
	if c.Consensus.ConfidenceFloor < 2 || c.Consensus.ConfidenceFloor > 100 {
		return fmt.Errorf("config.consensus.confidence_floor must be in [2,100]; 1 is reserved for rejections")
	}
	if c.Consensus.RejectBelowConfidence < 0 || c.Consensus.RejectBelowConfidence > 100 {
		return fmt.Errorf("config.consensus.reject_below_confidence must be in [0,100]")
	}
	if c.Consensus.Currency == "" {
		c.Consensus.Currency = "USD"
	}
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("config.ledger.rpc_url is required")
	}
	if c.Ledger.ChainID == 0 {
		return fmt.Errorf("config.ledger.chain_id is required")
	}
	if c.Ledger.RouterAddress == "" {
		return fmt.Errorf("config.ledger.router_address is required")
	}
	if c.Storage.PinataBaseURL == "" {
		c.Storage.PinataBaseURL = "https://api.pinata.cloud"
	}
	if c.Storage.GatewayURL == "" {
		c.Storage.GatewayURL = "https://gateway.pinata.cloud/ipfs"
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "prop99.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(oracleID string) string {
	return fmt.Sprintf(defaultTemplate, oracleID)
}

// Default returns the default Config struct for an oracle id.
func Default(oracleID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(oracleID)))
	if err != nil {
		// the embedded template must always validate
		panic(err)
	}
	return cfg
}

const defaultTemplate = `oracle:
  id: %s

measurement:
  command: python
  args: [satellite_service.py]
  timeout_seconds: 60

agents:
  - name: groq
    command: python
    args: [agent1.py]
    timeout_seconds: 30
  - name: openrouter
    command: python
    args: [agent2.py]
    timeout_seconds: 30
  - name: gemini
    command: python
    args: [agent3.py]
    timeout_seconds: 30

consensus:
  min_valid_responses: 2
  confidence_floor: 2
  reject_below_confidence: 30
  currency: USD

ledger:
  rpc_url: https://rpc.sepolia.mantle.xyz
  chain_id: 5003
  router_address: "0x0000000000000000000000000000000000000000"
  private_key_env: ORACLE_PRIVATE_KEY
  gas_limit: 500000

storage:
  pinata_base_url: https://api.pinata.cloud
  pinata_jwt_env: PINATA_JWT
  gateway_url: https://gateway.pinata.cloud/ipfs

ocr:
  enabled: false
  base_url: https://api.ocr.space
  api_key_env: OCR_SPACE_API_KEY

pricing:
  enabled: false
  api_key_env: GOOGLE_API_KEY
  cse_id_env: GOOGLE_CSE_ID

server:
  listen: ":8099"
  jwt_secret_env: PROP99_JWT_SECRET
`
