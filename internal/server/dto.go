package server

import (
	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// Request payloads

type SubmitRequestRequest struct {
	RequestID    string   `json:"request_id"`
	Latitude     float64  `json:"latitude" minimum:"-90" maximum:"90"`
	Longitude    float64  `json:"longitude" minimum:"-180" maximum:"180"`
	DocumentCIDs []string `json:"document_cids,omitempty"`
}

// Response payloads

type RequestResponse struct {
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

type EvidenceResponse struct {
	RequestID string `json:"request_id"`
	CID       string `json:"cid"`
	URL       string `json:"url,omitempty"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Payload   string `json:"payload_json"`
}

func requestResponse(rec domain.RequestRecord) RequestResponse {
	return RequestResponse{
		RequestID:    rec.RequestID,
		Latitude:     rec.Latitude,
		Longitude:    rec.Longitude,
		DocumentCIDs: rec.DocumentCIDs,
		Stage:        rec.Stage,
		FailedStage:  rec.FailedStage,
		FailCause:    rec.FailCause,
		Valuation:    rec.Valuation,
		Confidence:   rec.Confidence,
		EvidenceCID:  rec.EvidenceCID,
		TxHash:       rec.TxHash,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		RequestID: e.RequestID,
		Stage:     e.Stage,
		Payload:   e.Payload,
	}
}
