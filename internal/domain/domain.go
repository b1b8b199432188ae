package domain

// VerificationRequest is the ledger-assigned work item for one asset.
// It is read-only for the duration of an orchestration run; results are
// attached to the run, never merged back into the request.
type VerificationRequest struct {
	RequestID    string   `json:"request_id"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	DocumentCIDs []string `json:"document_cids,omitempty"`
}

// MeasurementRecord is the fixed-shape result of one satellite provider
// call. It is either fully populated or the fetch fails; no partial
// records reach the agents.
type MeasurementRecord struct {
	AreaSqm          float64 `json:"area_sqm"`
	NDVI             float64 `json:"ndvi"`
	CloudCoverage    float64 `json:"cloud_coverage"`
	ResolutionMeters float64 `json:"resolution_meters"`
	Provider         string  `json:"provider"`
	CapturedAt       string  `json:"captured_at" format:"date-time"`
}

// EvaluationPackage is the argument handed to every valuation agent.
type EvaluationPackage struct {
	RequestID     string            `json:"request_id"`
	Latitude      float64           `json:"latitude"`
	Longitude     float64           `json:"longitude"`
	Measurement   MeasurementRecord `json:"satellite_data"`
	DocumentCount int               `json:"document_count"`
	DocumentCIDs  []string          `json:"document_hashes,omitempty"`
	DocumentTexts []string          `json:"document_contents,omitempty"`
	MarketHint    *MarketHint       `json:"market_hint,omitempty"`
}

// MarketHint carries optional comparable-market pricing context.
type MarketHint struct {
	MedianPrice float64 `json:"median_price"`
	SampleCount int     `json:"sample_count"`
	Source      string  `json:"source"`
}

// AgentResponse is one agent's opinion. Error is set if and only if the
// agent failed; a failed response never contributes to consensus.
type AgentResponse struct {
	Agent       string   `json:"agent"`
	Valuation   float64  `json:"valuation"`
	Confidence  int      `json:"confidence" minimum:"0" maximum:"100"`
	Currency    string   `json:"currency,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
	RiskFactors []string `json:"risk_factors,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Valid reports whether the response may contribute to consensus.
func (r AgentResponse) Valid() bool { return r.Error == "" }

type ConsensusStatistics struct {
	Mean              float64 `json:"mean"`
	StandardDeviation float64 `json:"standard_deviation"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
}

// ConsensusResult is the reduction of all valid agent responses.
// FinalConfidence reports how sure the panel is; ConsensusScore reports
// how much the panel agrees with itself.
type ConsensusResult struct {
	FinalValuation  float64             `json:"final_valuation"`
	FinalConfidence int                 `json:"final_confidence" minimum:"0" maximum:"100"`
	ConsensusScore  int                 `json:"consensus_score" minimum:"0" maximum:"100"`
	Statistics      ConsensusStatistics `json:"statistics"`
}

// EvidenceBundle is the full immutable audit record for one run,
// including failed agent responses.
type EvidenceBundle struct {
	RequestID      string            `json:"request_id"`
	Valuation      float64           `json:"valuation"`
	Confidence     int               `json:"confidence"`
	Rejected       bool              `json:"rejected,omitempty"`
	RejectReason   string            `json:"reject_reason,omitempty"`
	Measurement    MeasurementRecord `json:"satellite_data"`
	AgentResponses []AgentResponse   `json:"agent_responses"`
	Consensus      *ConsensusResult  `json:"consensus,omitempty"`
	Timestamp      string            `json:"timestamp" format:"date-time"`
}

// Request lifecycle stages. Transitions are strictly sequential and
// one-directional; a failure at any stage is terminal for the run.
const (
	StageReceived           = "received"
	StageMeasurementFetched = "measurement_fetched"
	StageAgentsEvaluated    = "agents_evaluated"
	StageConsensusComputed  = "consensus_computed"
	StageEvidenceArchived   = "evidence_archived"
	StageSubmittedVerified  = "submitted_verified"
	StageSubmittedRejected  = "submitted_rejected"
	StageFailed             = "failed"
)

// RequestRecord is the persisted lifecycle row for a verification request.
type RequestRecord struct {
	RequestID    string   `json:"request_id"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	DocumentCIDs []string `json:"document_cids,omitempty"`
	Stage        string   `json:"stage" enum:"received,measurement_fetched,agents_evaluated,consensus_computed,evidence_archived,submitted_verified,submitted_rejected,failed"`
	FailedStage  string   `json:"failed_stage,omitempty"`
	FailCause    string   `json:"fail_cause,omitempty"`
	Valuation    *float64 `json:"valuation,omitempty"`
	Confidence   *int     `json:"confidence,omitempty"`
	EvidenceCID  string   `json:"evidence_cid,omitempty"`
	TxHash       string   `json:"tx_hash,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// EvidenceRef correlates a request to its archived evidence artifact.
type EvidenceRef struct {
	RequestID string `json:"request_id"`
	CID       string `json:"cid"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Payload   string `json:"payload_json"`
}
