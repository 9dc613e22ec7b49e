package afis

import (
	"image"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/high-horse/fingerprint-server/internal/biometric"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssessQualityFlatImageScoresLow(t *testing.T) {
	p := New(quietLogger(), 50)

	flat := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}

	status, score, err := p.AssessQuality(flat)
	if err != nil {
		t.Fatalf("AssessQuality failed: %v", err)
	}
	if !status.OK() {
		t.Fatalf("unexpected status %q", status)
	}
	if score != 0 {
		t.Fatalf("flat image should score 0, got %d", score)
	}
}

func TestAssessQualityTexturedImageScoresHigher(t *testing.T) {
	p := New(quietLogger(), 50)

	rng := rand.New(rand.NewSource(1))
	textured := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range textured.Pix {
		textured.Pix[i] = byte(rng.Intn(256))
	}

	_, score, err := p.AssessQuality(textured)
	if err != nil {
		t.Fatalf("AssessQuality failed: %v", err)
	}
	if score <= 10 {
		t.Fatalf("textured image should score well above flat, got %d", score)
	}
	if score > 100 {
		t.Fatalf("score out of range: %d", score)
	}
}

func TestAssessQualityRejectsDegenerateImages(t *testing.T) {
	p := New(quietLogger(), 50)

	status, score, err := p.AssessQuality(nil)
	if err != nil || status.OK() || score != 0 {
		t.Fatalf("nil image: status=%q score=%d err=%v", status, score, err)
	}

	tiny := image.NewGray(image.Rect(0, 0, 1, 1))
	status, _, err = p.AssessQuality(tiny)
	if err != nil || status.OK() {
		t.Fatalf("degenerate image should not score: status=%q err=%v", status, err)
	}
}

func TestCandidateRankingIsDeterministic(t *testing.T) {
	cases := []struct {
		name string
		a, b biometric.Candidate
		want int
	}{
		{"higher score first", biometric.Candidate{ID: 1, Score: 90}, biometric.Candidate{ID: 2, Score: 50}, -1},
		{"lower score second", biometric.Candidate{ID: 1, Score: 10}, biometric.Candidate{ID: 2, Score: 50}, 1},
		{"tie breaks on id", biometric.Candidate{ID: 3, Score: 50}, biometric.Candidate{ID: 9, Score: 50}, -1},
		{"identical", biometric.Candidate{ID: 3, Score: 50}, biometric.Candidate{ID: 3, Score: 50}, 0},
	}
	for _, tc := range cases {
		if got := byScoreDesc(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: got %d want %d", tc.name, got, tc.want)
		}
	}
}

func TestCompressProducesWSQData(t *testing.T) {
	p := New(quietLogger(), 50)

	rng := rand.New(rand.NewSource(2))
	img := image.NewGray(image.Rect(0, 0, 128, 128))
	for i := range img.Pix {
		img.Pix[i] = byte(rng.Intn(256))
	}

	data, err := p.Compress(img)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected encoded WSQ bytes")
	}
}

func TestCompressRejectsNilImage(t *testing.T) {
	p := New(quietLogger(), 50)
	if _, err := p.Compress(nil); err == nil {
		t.Fatal("expected error for nil image")
	}
}
