package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
)

// ArchiveError means the evidence trail could not be persisted. It is
// fatal: no outcome reaches the ledger without independently auditable
// evidence behind it.
type ArchiveError struct {
	Cause error
}

func (e *ArchiveError) Error() string { return fmt.Sprintf("archive evidence: %v", e.Cause) }
func (e *ArchiveError) Unwrap() error { return e.Cause }

// Archiver persists evidence bundles and keeps the request → evidence
// mapping table current.
type Archiver struct {
	Storage Storage
	Repo    repo.Repo
	Now     func() time.Time
}

// Archive uploads the bundle and upserts its content reference keyed by
// request id. Retrying the same request overwrites the mapping with the
// fresh reference; the table never accumulates duplicates.
func (a Archiver) Archive(ctx context.Context, bundle domain.EvidenceBundle) (string, error) {
	if bundle.RequestID == "" {
		return "", &ArchiveError{Cause: fmt.Errorf("bundle missing request id")}
	}
	if bundle.Timestamp == "" {
		now := a.Now
		if now == nil {
			now = time.Now
		}
		bundle.Timestamp = now().UTC().Format(time.RFC3339)
	}
	cid, err := a.Storage.Put(ctx, bundle, nameHint(bundle.RequestID))
	if err != nil {
		return "", &ArchiveError{Cause: err}
	}
	if err := a.Repo.UpsertEvidenceRef(ctx, bundle.RequestID, cid); err != nil {
		return "", &ArchiveError{Cause: fmt.Errorf("record evidence ref: %w", err)}
	}
	return cid, nil
}

func nameHint(requestID string) string {
	short := requestID
	if len(short) > 10 {
		short = short[:10]
	}
	return fmt.Sprintf("Evidence_%s.json", short)
}
