package period

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper runs Machine.Sweep on a fixed schedule so ON_GOING periods whose
// end time passed without an explicit end call converge to ENDED.
type Sweeper struct {
	machine *Machine
	cron    *cron.Cron
}

const sweepSchedule = "@every 30s"

func NewSweeper(machine *Machine) *Sweeper {
	return &Sweeper{
		machine: machine,
		cron:    cron.New(),
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		s.machine.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule period sweep: %w", err)
	}
	s.cron.Start()
	slog.Info("Period sweeper started",
		slog.String("type", "sys"),
		slog.String("schedule", sweepSchedule))
	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
