// Package identify matches a probe template against the enrolled gallery.
package identify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/high-horse/fingerprint-server/internal/biometric"
	"github.com/high-horse/fingerprint-server/internal/store"
)

// RecordReader is the slice of the record store the engine needs.
type RecordReader interface {
	FindAll(ctx context.Context) ([]store.Record, error)
	FindByID(ctx context.Context, id int64) (*store.Record, error)
}

// Result is the shaped outcome of one identification. A negative outcome
// (nothing to identify, empty gallery, no candidate above threshold) is a
// normal result with MatchFound false, not an error.
type Result struct {
	MatchFound      bool
	SuspectID       string
	Score           float64
	FingerType      string
	OriginalQuality int
	Note            string
}

// Engine performs 1:N identification against the record store.
type Engine struct {
	records RecordReader
	proc    biometric.Processor
	logger  *slog.Logger
}

// New constructs the identification engine.
func New(records RecordReader, proc biometric.Processor, logger *slog.Logger) *Engine {
	return &Engine{records: records, proc: proc, logger: logger}
}

// Identify matches the base64 probe template against every enrolled record
// with a non-empty template and returns the top-ranked candidate. Errors are
// reserved for store or engine failures; a miss is a Result, not an error.
func (e *Engine) Identify(ctx context.Context, probeBase64 string) (*Result, error) {
	if probeBase64 == "" {
		return &Result{}, nil
	}
	probe, err := base64.StdEncoding.DecodeString(probeBase64)
	if err != nil {
		return &Result{Note: "probe template is not valid base64"}, nil
	}

	records, err := e.records.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	if len(records) == 0 {
		return &Result{Note: "no enrolled records"}, nil
	}

	// Records persisted with degraded extraction carry an empty template
	// and cannot participate in matching.
	gallery := make([]biometric.GalleryEntry, 0, len(records))
	for _, rec := range records {
		if rec.NativeTemplate == "" {
			continue
		}
		tpl, err := base64.StdEncoding.DecodeString(rec.NativeTemplate)
		if err != nil || len(tpl) == 0 {
			e.logger.Warn("skipping record with unreadable template", "id", rec.ID)
			continue
		}
		gallery = append(gallery, biometric.GalleryEntry{ID: rec.ID, Template: tpl})
	}
	if len(gallery) == 0 {
		return &Result{Note: "no matchable records"}, nil
	}

	defer e.proc.Clear()

	status, candidates, err := e.proc.Match(ctx, probe, gallery)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	if !status.OK() {
		return &Result{Note: fmt.Sprintf("match status: %s", status)}, nil
	}
	if len(candidates) == 0 {
		return &Result{Note: "no match above threshold"}, nil
	}

	// The matcher returns candidates ranked best-first; only the top one is
	// surfaced.
	best := candidates[0]
	result := &Result{
		MatchFound: true,
		SuspectID:  fmt.Sprintf("%d", best.ID),
		Score:      best.Score,
	}

	// Display attributes are best-effort: a record deleted between the
	// gallery load and this lookup just leaves them unset.
	if rec, err := e.records.FindByID(ctx, best.ID); err == nil && rec != nil {
		result.FingerType = rec.FingerType
		result.OriginalQuality = rec.Quality
	}

	e.logger.Info("identification match", "suspect_id", result.SuspectID, "score", result.Score)
	return result, nil
}
