package settlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Start runs a sweep every interval until ctx is done, then waits for an
// in-flight sweep to finish. Ticks that arrive while a sweep is still running
// are dropped.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_sweeper").Logger()
	logger.Info().Dur("interval", s.cfg.Interval).Msg("starting settlement sweeper")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			logger.Info().Msg("shutting down settlement sweeper")
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.tick(ctx)
			}()
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, ran := s.TrySweep(ctx); !ran {
		s.metrics.SweepsSkipped.Inc()
		log.Debug().Str("component", "settlement_sweeper").Msg("previous sweep still running, tick skipped")
	}
}
