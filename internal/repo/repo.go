package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const requestColumns = `request_id,latitude,longitude,COALESCE(document_cids,'') AS document_cids,stage,
COALESCE(failed_stage,'') AS failed_stage,COALESCE(fail_cause,'') AS fail_cause,valuation,confidence,
COALESCE(evidence_cid,'') AS evidence_cid,COALESCE(tx_hash,'') AS tx_hash,created_at,updated_at`

func scanRequest(scan func(dest ...any) error) (domain.RequestRecord, error) {
	var (
		rec        domain.RequestRecord
		docs       string
		valuation  sql.NullFloat64
		confidence sql.NullInt64
	)
	err := scan(&rec.RequestID, &rec.Latitude, &rec.Longitude, &docs, &rec.Stage,
		&rec.FailedStage, &rec.FailCause, &valuation, &confidence,
		&rec.EvidenceCID, &rec.TxHash, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if docs != "" {
		if err := json.Unmarshal([]byte(docs), &rec.DocumentCIDs); err != nil {
			return rec, fmt.Errorf("decode document cids: %w", err)
		}
	}
	if valuation.Valid {
		v := valuation.Float64
		rec.Valuation = &v
	}
	if confidence.Valid {
		c := int(confidence.Int64)
		rec.Confidence = &c
	}
	return rec, nil
}

// InsertRequest records a newly received request. Duplicate request ids
// from replayed chain events are ignored; the first row wins.
func (r Repo) InsertRequest(ctx context.Context, rec domain.RequestRecord) error {
	docs, err := marshalStringSlice(rec.DocumentCIDs)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO requests(request_id,latitude,longitude,document_cids,stage,created_at,updated_at)
VALUES (?,?,?,?,?,?,?) ON CONFLICT(request_id) DO NOTHING`,
		rec.RequestID, rec.Latitude, rec.Longitude, docs, rec.Stage, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, requestID string) (domain.RequestRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id=?`, requestID)
	return scanRequest(row.Scan)
}

// SetRequestStage advances the lifecycle row inside the caller's transaction.
func (r Repo) SetRequestStage(ctx context.Context, tx *sql.Tx, requestID, stage, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET stage=?, updated_at=? WHERE request_id=?`, stage, updatedAt, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRequestFailed records the terminal failure with its originating stage.
func (r Repo) MarkRequestFailed(ctx context.Context, tx *sql.Tx, requestID, failedStage, cause, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET stage=?, failed_stage=?, fail_cause=?, updated_at=? WHERE request_id=?`,
		domain.StageFailed, failedStage, cause, updatedAt, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRequestOutcome stores the committed valuation, confidence and tx hash.
func (r Repo) SetRequestOutcome(ctx context.Context, tx *sql.Tx, requestID string, valuation float64, confidence int, txHash, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET valuation=?, confidence=?, tx_hash=?, updated_at=? WHERE request_id=?`,
		valuation, confidence, txHash, updatedAt, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRequestEvidence stores the archived evidence reference on the lifecycle row.
func (r Repo) SetRequestEvidence(ctx context.Context, tx *sql.Tx, requestID, cid, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET evidence_cid=?, updated_at=? WHERE request_id=?`, cid, updatedAt, requestID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRequests returns lifecycle rows, optionally filtered by stage,
// newest first, keyset-paginated on (created_at, request_id).
func (r Repo) ListRequests(ctx context.Context, stage string, limit int, cursorCreatedAt, cursorID string) ([]domain.RequestRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND request_id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, request_id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// PendingRequests returns requests still waiting for an orchestration run,
// oldest first so the dispatcher drains in arrival order.
func (r Repo) PendingRequests(ctx context.Context, limit int) ([]domain.RequestRecord, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE stage=? ORDER BY created_at ASC, request_id ASC`
	args := []any{domain.StageReceived}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpsertEvidenceRef maps a request to its archived evidence artifact.
// Last write wins per key; the bundle content is fully determined by the
// request, so a retried archive may safely overwrite.
func (r Repo) UpsertEvidenceRef(ctx context.Context, requestID, cid string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO evidence_refs(request_id,cid,updated_at) VALUES (?,?,?)
ON CONFLICT(request_id) DO UPDATE SET cid=excluded.cid, updated_at=excluded.updated_at`, requestID, cid, now)
	return err
}

func (r Repo) GetEvidenceRef(ctx context.Context, requestID string) (domain.EvidenceRef, error) {
	var ref domain.EvidenceRef
	err := r.DB.QueryRowContext(ctx, `SELECT request_id,cid,updated_at FROM evidence_refs WHERE request_id=?`, requestID).
		Scan(&ref.RequestID, &ref.CID, &ref.UpdatedAt)
	if err == sql.ErrNoRows {
		return ref, ErrNotFound
	}
	return ref, err
}

// EventsForRequest returns the event trail for one request, oldest first.
func (r Repo) EventsForRequest(ctx context.Context, requestID string, limit int) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(request_id,''),COALESCE(stage,''),payload_json FROM events WHERE request_id=? ORDER BY id ASC`
	args := []any{requestID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.Stage, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(request_id,''),COALESCE(stage,''),payload_json FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RequestID, &e.Stage, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
