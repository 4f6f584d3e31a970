package verification

import (
	"context"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	GeoWeight    = 0.4
	VisualWeight = 0.6

	// AutoAcceptThreshold gates the auto-approval fast path; human review is the default
	AutoAcceptThreshold = 0.95
)

// Result is the outcome of one verification pass
type Result struct {
	Geo        float64 `json:"geo"`
	Visual     float64 `json:"visual"`
	Composite  float64 `json:"composite"`
	AutoAccept bool    `json:"auto_accept"`
}

// Status returns the report status the result leads to
func (r Result) Status() models.ReportStatus {
	if r.AutoAccept {
		return models.ReportAccepted
	}
	return models.ReportPending
}

// Engine fuses geo-temporal and visual evidence into an accept/hold decision
type Engine struct {
	visual *VisualScorer
}

// NewEngine creates a verification engine
func NewEngine(visual *VisualScorer) *Engine {
	return &Engine{visual: visual}
}

// Composite blends the two sub-scores
func Composite(geo, visual float64) float64 {
	return GeoWeight*geo + VisualWeight*visual
}

// Decide reports whether a composite score qualifies for auto-acceptance
func Decide(composite float64) bool {
	return composite >= AutoAcceptThreshold
}

// Evaluate scores a report against its request from scratch
func (e *Engine) Evaluate(ctx context.Context, req *models.Request, rep *models.Report) Result {
	start := time.Now()

	geo := GeoTemporalScore(
		Evidence{Latitude: rep.CaptureLatitude, Longitude: rep.CaptureLongitude, CapturedAt: rep.CapturedAt},
		Anchor{Latitude: req.Latitude, Longitude: req.Longitude, CreatedAt: req.CreatedAt},
	)
	visual := e.visual.Score(ctx, firstPhoto(req.Photos), firstPhoto(rep.Photos))

	composite := Composite(geo, visual)
	res := Result{
		Geo:        geo,
		Visual:     visual,
		Composite:  composite,
		AutoAccept: Decide(composite),
	}

	log.Info().
		Str("request_id", req.ID).
		Str("report_id", rep.ID).
		Float64("geo", geo).
		Float64("visual", visual).
		Float64("composite", composite).
		Bool("auto_accept", res.AutoAccept).
		Dur("duration_ms", time.Since(start)).
		Msg("Report verified")

	return res
}

func firstPhoto(photos []string) string {
	if len(photos) == 0 {
		return ""
	}
	return photos[0]
}
