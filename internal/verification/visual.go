package verification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	insufficientVisual  = 0.5
	defaultLabelTimeout = 20 * time.Second
)

// Label is one (label, confidence) pair returned by the vision collaborator
type Label struct {
	Name       string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// LabelDetector returns weighted labels for an image reference
type LabelDetector interface {
	DetectLabels(ctx context.Context, imageURL string) ([]Label, error)
}

// VisualScorer compares a lost photo against a found photo through label overlap
type VisualScorer struct {
	detector LabelDetector
	timeout  time.Duration
}

// NewVisualScorer creates a scorer; timeout bounds each collaborator call
func NewVisualScorer(detector LabelDetector, timeout time.Duration) *VisualScorer {
	if timeout <= 0 {
		timeout = defaultLabelTimeout
	}
	return &VisualScorer{detector: detector, timeout: timeout}
}

// Score returns a similarity in [0,1]. Missing images or empty label sets give
// 0.5; a collaborator failure gives 0 so the report is never auto-accepted.
func (s *VisualScorer) Score(ctx context.Context, lostURL, foundURL string) float64 {
	if lostURL == "" || foundURL == "" {
		return insufficientVisual
	}
	if s == nil || s.detector == nil {
		log.Warn().Msg("Vision detector not configured, treating visual evidence as unverified")
		return 0
	}

	lost, err := s.detect(ctx, lostURL)
	if err != nil {
		log.Warn().Err(err).Str("image", lostURL).Msg("Label detection failed for request photo")
		return 0
	}
	found, err := s.detect(ctx, foundURL)
	if err != nil {
		log.Warn().Err(err).Str("image", foundURL).Msg("Label detection failed for report photo")
		return 0
	}

	if len(lost) == 0 || len(found) == 0 {
		return insufficientVisual
	}
	return WeightedJaccard(lost, found)
}

func (s *VisualScorer) detect(ctx context.Context, imageURL string) ([]Label, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.detector.DetectLabels(ctx, imageURL)
}

// WeightedJaccard computes Σmin/Σmax over the union of labels. Labels are matched
// case-insensitively; duplicates within one set keep their highest confidence.
func WeightedJaccard(a, b []Label) float64 {
	wa, wb := weights(a), weights(b)

	var intersection, union float64
	for name, sa := range wa {
		sb := wb[name]
		intersection += min(sa, sb)
		union += max(sa, sb)
	}
	for name, sb := range wb {
		if _, seen := wa[name]; !seen {
			union += sb
		}
	}

	if union == 0 {
		return 0
	}
	return clamp01(intersection / union)
}

func weights(labels []Label) map[string]float64 {
	out := make(map[string]float64, len(labels))
	for _, l := range labels {
		name := strings.ToLower(strings.TrimSpace(l.Name))
		if name == "" {
			continue
		}
		c := clamp01(l.Confidence)
		if prev, ok := out[name]; !ok || c > prev {
			out[name] = c
		}
	}
	return out
}
