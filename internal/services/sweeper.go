package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SecretSweeper clears delivery secrets issued before the cutoff and reports how many
type SecretSweeper func(ctx context.Context, ttl time.Duration) (int64, error)

// Sweeper periodically expires stale delivery secrets
type Sweeper struct {
	cron  *cron.Cron
	sweep SecretSweeper
	ttl   time.Duration
}

// NewSweeper schedules sweep on spec (standard cron or @every syntax)
func NewSweeper(spec string, ttl time.Duration, sweep SecretSweeper) (*Sweeper, error) {
	s := &Sweeper{
		cron:  cron.New(),
		sweep: sweep,
		ttl:   ttl,
	}
	if _, err := s.cron.AddFunc(spec, s.Run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run performs one sweep
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.sweep(ctx, s.ttl)
	if err != nil {
		log.Error().Err(err).Msg("Delivery secret sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int64("cleared", n).Dur("ttl", s.ttl).Msg("Expired delivery secrets cleared")
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Dur("ttl", s.ttl).Msg("Delivery secret sweeper started")
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
