package identify

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"log/slog"
	"testing"

	"github.com/high-horse/fingerprint-server/internal/biometric"
	"github.com/high-horse/fingerprint-server/internal/store"
)

type stubRecords struct {
	records      []store.Record
	findAllErr   error
	findAllCalls int
	findByIDs    []int64
	missingByID  bool
}

func (s *stubRecords) FindAll(ctx context.Context) ([]store.Record, error) {
	s.findAllCalls++
	return s.records, s.findAllErr
}

func (s *stubRecords) FindByID(ctx context.Context, id int64) (*store.Record, error) {
	s.findByIDs = append(s.findByIDs, id)
	if s.missingByID {
		return nil, nil
	}
	for i := range s.records {
		if s.records[i].ID == id {
			return &s.records[i], nil
		}
	}
	return nil, nil
}

type stubMatcher struct {
	status     biometric.Status
	candidates []biometric.Candidate
	gallery    []biometric.GalleryEntry
	matchCalls int
	clearCalls int
}

func (m *stubMatcher) ExtractTemplate(img *image.Gray) (biometric.Status, []byte, error) {
	return biometric.StatusOK, nil, nil
}

func (m *stubMatcher) AssessQuality(img *image.Gray) (biometric.Status, int, error) {
	return biometric.StatusOK, 0, nil
}

func (m *stubMatcher) Compress(img *image.Gray) ([]byte, error) { return nil, nil }

func (m *stubMatcher) Match(ctx context.Context, probe []byte, gallery []biometric.GalleryEntry) (biometric.Status, []biometric.Candidate, error) {
	m.matchCalls++
	m.gallery = gallery
	return m.status, m.candidates, nil
}

func (m *stubMatcher) Clear() { m.clearCalls++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func record(id int64, fingerType, template string, quality int) store.Record {
	return store.Record{
		ID:             id,
		FingerType:     fingerType,
		NativeTemplate: template,
		Quality:        quality,
	}
}

func TestIdentifyEmptyProbe(t *testing.T) {
	records := &stubRecords{}
	matcher := &stubMatcher{}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), "")
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.MatchFound {
		t.Fatal("expected no match for empty probe")
	}
	if records.findAllCalls != 0 {
		t.Fatal("empty probe must not touch the record store")
	}
	if matcher.matchCalls != 0 {
		t.Fatal("empty probe must not invoke the matcher")
	}
}

func TestIdentifyEmptyGallery(t *testing.T) {
	records := &stubRecords{}
	matcher := &stubMatcher{}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.MatchFound {
		t.Fatal("expected no match against empty gallery")
	}
	if res.Note == "" {
		t.Fatal("expected an informational note")
	}
	if matcher.matchCalls != 0 {
		t.Fatal("empty gallery must not invoke the matcher")
	}
}

func TestIdentifySkipsEmptyTemplates(t *testing.T) {
	records := &stubRecords{records: []store.Record{
		record(1, "r_thumb", "", 50),
		record(2, "l_index", b64("tpl-2"), 60),
	}}
	matcher := &stubMatcher{status: biometric.StatusOK}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.MatchFound {
		t.Fatal("expected no match")
	}
	if len(matcher.gallery) != 1 || matcher.gallery[0].ID != 2 {
		t.Fatalf("expected gallery of just record 2, got %+v", matcher.gallery)
	}
}

func TestIdentifyOnlyEmptyTemplatesMeansNoMatchableRecords(t *testing.T) {
	records := &stubRecords{records: []store.Record{record(1, "r_thumb", "", 50)}}
	matcher := &stubMatcher{}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if res.MatchFound {
		t.Fatal("a record with an empty template must never match")
	}
	if matcher.matchCalls != 0 {
		t.Fatal("matcher must not run without matchable records")
	}
}

func TestIdentifyReturnsTopRankedWithAttributes(t *testing.T) {
	records := &stubRecords{records: []store.Record{
		record(1, "r_thumb", b64("tpl-a"), 40),
		record(2, "l_index", b64("tpl-b"), 88),
		record(3, "r_index", b64("tpl-c"), 55),
	}}
	matcher := &stubMatcher{
		status: biometric.StatusOK,
		candidates: []biometric.Candidate{
			{ID: 2, Score: 91.5},
			{ID: 3, Score: 62.0},
		},
	}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if !res.MatchFound {
		t.Fatal("expected a match")
	}
	if res.SuspectID != "2" {
		t.Fatalf("expected suspect 2, got %q", res.SuspectID)
	}
	if res.Score != 91.5 {
		t.Fatalf("unexpected score %v", res.Score)
	}
	if res.FingerType != "l_index" || res.OriginalQuality != 88 {
		t.Fatalf("expected record 2 attributes, got %q/%d", res.FingerType, res.OriginalQuality)
	}
	if matcher.clearCalls != 1 {
		t.Fatalf("expected matcher state cleared once, got %d", matcher.clearCalls)
	}
}

func TestIdentifyNonOKStatusIsNegativeOutcome(t *testing.T) {
	records := &stubRecords{records: []store.Record{record(1, "r_thumb", b64("tpl"), 50)}}
	matcher := &stubMatcher{status: biometric.StatusInternal}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("non-OK status must not be an error: %v", err)
	}
	if res.MatchFound {
		t.Fatal("expected no match")
	}
	if res.Note == "" {
		t.Fatal("expected the status carried as a note")
	}
	if matcher.clearCalls != 1 {
		t.Fatal("matcher state must be cleared even on a negative outcome")
	}
}

func TestIdentifyMissingRecordOmitsAttributes(t *testing.T) {
	records := &stubRecords{
		records:     []store.Record{record(7, "r_thumb", b64("tpl"), 50)},
		missingByID: true,
	}
	matcher := &stubMatcher{
		status:     biometric.StatusOK,
		candidates: []biometric.Candidate{{ID: 7, Score: 77}},
	}
	engine := New(records, matcher, quietLogger())

	res, err := engine.Identify(context.Background(), b64("probe"))
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if !res.MatchFound || res.SuspectID != "7" {
		t.Fatalf("expected match on 7, got %+v", res)
	}
	if res.FingerType != "" || res.OriginalQuality != 0 {
		t.Fatal("attributes must be omitted when the record lookup misses")
	}
}

func TestIdentifyStoreFailurePropagates(t *testing.T) {
	records := &stubRecords{findAllErr: fmt.Errorf("store offline")}
	engine := New(records, &stubMatcher{}, quietLogger())

	if _, err := engine.Identify(context.Background(), b64("probe")); err == nil {
		t.Fatal("expected store failure to propagate")
	}
}
