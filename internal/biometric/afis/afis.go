// Package afis implements biometric.Processor on top of the SourceAFIS
// fingerprint engine.
package afis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/fxamacker/cbor/v2"
	"github.com/miqdadyyy/go-sourceafis"
	afisconfig "github.com/miqdadyyy/go-sourceafis/config"
	wsq "github.com/jtejido/go-wsq"

	"github.com/high-horse/fingerprint-server/internal/biometric"
)

var engineInit sync.Once

// transparencyContents discards engine transparency data. The logger is still
// required by the template creator and matcher constructors.
type transparencyContents struct{}

func (transparencyContents) Accepts(key string) bool { return false }

func (transparencyContents) Accept(key, mime string, data []byte) error { return nil }

// templateEnvelope is the portable template interchange format. The engine's
// in-memory search template has no serialized form, so the envelope carries
// the normalized raster the features are re-derived from. The bytes are
// opaque to every other component.
type templateEnvelope struct {
	Version int    `cbor:"v"`
	Width   int    `cbor:"w"`
	Height  int    `cbor:"h"`
	Pixels  []byte `cbor:"px"`
}

const envelopeVersion = 1

// Processor is a biometric.Processor backed by SourceAFIS.
type Processor struct {
	logger    *slog.Logger
	threshold float64

	mu    sync.Mutex
	cache map[[sha256.Size]byte]*sourceafis.Image
}

// New constructs a Processor. Threshold is the minimum similarity score for a
// gallery entry to count as a match.
func New(logger *slog.Logger, threshold float64) *Processor {
	engineInit.Do(func() {
		afisconfig.LoadDefaultConfig()
		afisconfig.Config.Workers = runtime.NumCPU()
	})
	return &Processor{
		logger:    logger,
		threshold: threshold,
		cache:     make(map[[sha256.Size]byte]*sourceafis.Image),
	}
}

// ExtractTemplate derives engine features from the image to verify it is
// matchable, then packages the normalized raster as the portable template.
func (p *Processor) ExtractTemplate(img *image.Gray) (biometric.Status, []byte, error) {
	if img == nil {
		return biometric.StatusBadImage, nil, nil
	}
	src, err := sourceafis.NewFromGray(img)
	if err != nil {
		return biometric.StatusBadImage, nil, nil
	}
	tc := sourceafis.NewTemplateCreator(sourceafis.NewTransparencyLogger(transparencyContents{}))
	if _, err := tc.Template(src); err != nil {
		p.logger.Warn("template extraction failed", "error", err)
		return biometric.StatusBadImage, nil, nil
	}
	env, err := cbor.Marshal(templateEnvelope{
		Version: envelopeVersion,
		Width:   img.Bounds().Dx(),
		Height:  img.Bounds().Dy(),
		Pixels:  rasterOf(img),
	})
	if err != nil {
		return biometric.StatusInternal, nil, fmt.Errorf("encode template: %w", err)
	}
	return biometric.StatusOK, env, nil
}

// AssessQuality scores image usability for matching on a 0-100 scale from
// ridge contrast and local gradient energy.
func (p *Processor) AssessQuality(img *image.Gray) (biometric.Status, int, error) {
	if img == nil {
		return biometric.StatusBadImage, 0, nil
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return biometric.StatusBadImage, 0, nil
	}

	var sum, sumSq float64
	var grad float64
	n := float64(w * h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			sum += v
			sumSq += v * v
			if x > 0 {
				grad += math.Abs(v - float64(img.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y))
			}
			if y > 0 {
				grad += math.Abs(v - float64(img.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y))
			}
		}
	}
	mean := sum / n
	stddev := math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	meanGrad := grad / (2 * n)

	// Contrast saturates around one third of the 8-bit range; ridge energy
	// around a mean neighbour delta of 24 levels.
	contrast := math.Min(1, stddev/85.0)
	ridges := math.Min(1, meanGrad/24.0)
	score := int(math.Round(100 * (0.5*contrast + 0.5*ridges)))
	return biometric.StatusOK, score, nil
}

// Compress produces the WSQ interchange encoding of the image.
func (p *Processor) Compress(img *image.Gray) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("compress: nil image")
	}
	var buf bytes.Buffer
	if err := wsq.Encode(&buf, img, &wsq.Options{Bitrate: wsq.DefaultBitrate}); err != nil {
		return nil, fmt.Errorf("wsq encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Match ranks gallery entries against the probe, best first. Entries whose
// template fails to decode are skipped rather than failing the whole match.
func (p *Processor) Match(ctx context.Context, probe []byte, gallery []biometric.GalleryEntry) (biometric.Status, []biometric.Candidate, error) {
	probeImg, err := p.decodeEnvelope(probe)
	if err != nil {
		p.logger.Warn("probe template rejected", "error", err)
		return biometric.StatusBadImage, nil, nil
	}
	tl := sourceafis.NewTransparencyLogger(transparencyContents{})
	tc := sourceafis.NewTemplateCreator(tl)
	probeTemplate, err := tc.Template(probeImg)
	if err != nil {
		p.logger.Warn("probe feature derivation failed", "error", err)
		return biometric.StatusBadImage, nil, nil
	}
	matcher, err := sourceafis.NewMatcher(tl, probeTemplate)
	if err != nil {
		return biometric.StatusInternal, nil, fmt.Errorf("create matcher: %w", err)
	}

	ranked := priorityqueue.NewWith(byScoreDesc)
	for _, entry := range gallery {
		if err := ctx.Err(); err != nil {
			return biometric.StatusCanceled, nil, err
		}
		img, err := p.decodeEnvelope(entry.Template)
		if err != nil {
			p.logger.Warn("skipping unreadable gallery template", "id", entry.ID, "error", err)
			continue
		}
		candidate, err := tc.Template(img)
		if err != nil {
			p.logger.Warn("skipping gallery entry without features", "id", entry.ID, "error", err)
			continue
		}
		score := matcher.Match(ctx, candidate)
		if score >= p.threshold {
			ranked.Enqueue(biometric.Candidate{ID: entry.ID, Score: score})
		}
	}

	out := make([]biometric.Candidate, 0, ranked.Size())
	for {
		v, ok := ranked.Dequeue()
		if !ok {
			break
		}
		out = append(out, v.(biometric.Candidate))
	}
	return biometric.StatusOK, out, nil
}

// Clear drops the decoded-template cache built up during matching.
func (p *Processor) Clear() {
	p.mu.Lock()
	p.cache = make(map[[sha256.Size]byte]*sourceafis.Image)
	p.mu.Unlock()
}

// byScoreDesc orders candidates by descending score, ties by ascending id so
// ranking is deterministic across calls.
func byScoreDesc(a, b interface{}) int {
	ca, cb := a.(biometric.Candidate), b.(biometric.Candidate)
	switch {
	case ca.Score > cb.Score:
		return -1
	case ca.Score < cb.Score:
		return 1
	case ca.ID < cb.ID:
		return -1
	case ca.ID > cb.ID:
		return 1
	default:
		return 0
	}
}

func (p *Processor) decodeEnvelope(data []byte) (*sourceafis.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty template")
	}
	key := sha256.Sum256(data)
	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	var env templateEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported template version %d", env.Version)
	}
	if env.Width <= 0 || env.Height <= 0 || len(env.Pixels) != env.Width*env.Height {
		return nil, fmt.Errorf("malformed template raster")
	}
	gray := &image.Gray{
		Pix:    env.Pixels,
		Stride: env.Width,
		Rect:   image.Rect(0, 0, env.Width, env.Height),
	}
	img, err := sourceafis.NewFromGray(gray)
	if err != nil {
		return nil, fmt.Errorf("load template raster: %w", err)
	}

	p.mu.Lock()
	p.cache[key] = img
	p.mu.Unlock()
	return img, nil
}

func rasterOf(img *image.Gray) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[(b.Min.Y+y-img.Rect.Min.Y)*img.Stride:]
		copy(out[y*w:(y+1)*w], row[b.Min.X-img.Rect.Min.X:b.Min.X-img.Rect.Min.X+w])
	}
	return out
}
