package measurement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// ProviderError means the measurement step failed. No measurement means
// no evaluable package, so this is always fatal to the request.
type ProviderError struct {
	Cause error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("measurement provider: %v", e.Cause) }
func (e *ProviderError) Unwrap() error { return e.Cause }

// Client fetches a measurement record for a coordinate pair.
type Client interface {
	Fetch(ctx context.Context, latitude, longitude float64) (domain.MeasurementRecord, error)
}

// CommandClient runs an external provider process. The process receives
// {"latitude","longitude"} as JSON on stdin and must print a complete
// measurement record as JSON on stdout before the deadline.
type CommandClient struct {
	Command string
	Args    []string
	Timeout time.Duration
}

type fetchInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c CommandClient) Fetch(ctx context.Context, latitude, longitude float64) (domain.MeasurementRecord, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(fetchInput{Latitude: latitude, Longitude: longitude})
	if err != nil {
		return domain.MeasurementRecord{}, &ProviderError{Cause: err}
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return domain.MeasurementRecord{}, &ProviderError{Cause: fmt.Errorf("timeout after %s", timeout)}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return domain.MeasurementRecord{}, &ProviderError{Cause: fmt.Errorf("provider exited: %s", msg)}
	}

	var rec domain.MeasurementRecord
	if err := json.Unmarshal(stdout.Bytes(), &rec); err != nil {
		return domain.MeasurementRecord{}, &ProviderError{Cause: fmt.Errorf("parse provider output: %w", err)}
	}
	if err := validate(rec); err != nil {
		return domain.MeasurementRecord{}, &ProviderError{Cause: err}
	}
	return rec, nil
}

// validate rejects partially populated records; downstream stages assume
// a measurement record is complete or absent.
func validate(rec domain.MeasurementRecord) error {
	switch {
	case rec.AreaSqm <= 0:
		return fmt.Errorf("incomplete record: area_sqm %v", rec.AreaSqm)
	case rec.ResolutionMeters <= 0:
		return fmt.Errorf("incomplete record: resolution_meters %v", rec.ResolutionMeters)
	case rec.CloudCoverage < 0 || rec.CloudCoverage > 100:
		return fmt.Errorf("incomplete record: cloud_coverage %v", rec.CloudCoverage)
	case rec.Provider == "":
		return fmt.Errorf("incomplete record: provider missing")
	case rec.CapturedAt == "":
		return fmt.Errorf("incomplete record: captured_at missing")
	}
	if _, err := time.Parse(time.RFC3339, rec.CapturedAt); err != nil {
		return fmt.Errorf("incomplete record: captured_at: %w", err)
	}
	return nil
}
