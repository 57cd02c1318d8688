package period

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stellarfest/gamehall/gamehall/database/models"
	"github.com/stellarfest/gamehall/gamehall/database/repositories"
)

var (
	// ErrPeriodConflict rejects a start while another period in the same
	// economy is still live.
	ErrPeriodConflict = errors.New("another period is already on-going")
	// ErrNoRunningPeriod rejects pause/end when nothing is ON_GOING.
	ErrNoRunningPeriod = errors.New("no period is on-going")
	// ErrNoPausedPeriod rejects resume when nothing is PAUSED.
	ErrNoPausedPeriod = errors.New("no period is paused")
	// ErrNoActivePeriod rejects end when nothing is live at all.
	ErrNoActivePeriod = errors.New("no period is active")
	// ErrPeriodNotFound rejects a start naming a period id that does not
	// exist in the economy.
	ErrPeriodNotFound = errors.New("period not found")
	// ErrUnknownEconomy rejects operations on economies that do not exist.
	ErrUnknownEconomy = errors.New("unknown economy")
)

// InvariantError marks period rows missing fields a transition depends on.
// It indicates data corruption, is fatal for the request and never coerced
// into a default.
type InvariantError struct {
	PeriodID int64
	Reason   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("period %d invariant violated: %s", e.PeriodID, e.Reason)
}

// StatusEvent is published on every lifecycle transition. Delivery is
// fire-and-forget; a failed publish never fails the transition.
type StatusEvent struct {
	Economy    string              `json:"economy"`
	PeriodID   int64               `json:"period_id"`
	Label      string              `json:"label"`
	Status     models.PeriodStatus `json:"status"`
	StartTime  *time.Time          `json:"start_time,omitempty"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	PausedTime *time.Time          `json:"paused_time,omitempty"`
	ServerTime time.Time           `json:"server_time"`
}

type Notifier interface {
	PublishStatus(event StatusEvent)
}

// StatusResponse answers a status query. ServerTime always rides along so a
// remote reader can compute a clock offset; the authoritative countdown is
// always EndTime - ServerTime.
type StatusResponse struct {
	Economy    string              `json:"economy"`
	Status     models.PeriodStatus `json:"status"`
	Label      string              `json:"label,omitempty"`
	StartTime  *time.Time          `json:"start_time,omitempty"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	PausedTime *time.Time          `json:"paused_time,omitempty"`
	ServerTime time.Time           `json:"server_time"`
}

// Machine is the period timer state machine, one timeline per economy.
// Transitions are serialized per economy by an in-process mutex on top of
// the store's row-version check.
type Machine struct {
	repo     repositories.PeriodRepository
	notifier Notifier
	now      func() time.Time
	mu       map[string]*sync.Mutex
}

func NewMachine(repo repositories.PeriodRepository, notifier Notifier) *Machine {
	locks := make(map[string]*sync.Mutex, len(models.Economies))
	for _, economy := range models.Economies {
		locks[economy] = &sync.Mutex{}
	}
	return &Machine{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
		mu:       locks,
	}
}

func (m *Machine) lock(economy string) (*sync.Mutex, error) {
	mu, ok := m.mu[economy]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEconomy, economy)
	}
	mu.Lock()
	return mu, nil
}

// Start activates a NOT_STARTED or ENDED period. An ON_GOING period whose
// end time silently passed is folded to ENDED first; a genuinely live one
// makes Start fail with ErrPeriodConflict.
func (m *Machine) Start(ctx context.Context, economy string, periodID int64, duration time.Duration) (*models.Period, error) {
	mu, err := m.lock(economy)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	now := m.now()
	active, err := m.repo.FindActive(ctx, economy)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if !active.Expired(now) {
			return nil, fmt.Errorf("%w: %s", ErrPeriodConflict, active.Label)
		}
		// Lazily expired, never explicitly ended. Converge before starting.
		active.Status = models.PeriodEnded
		if err := m.update(ctx, active); err != nil {
			return nil, err
		}
		m.publish(active)
	}

	p, err := m.repo.GetByID(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrPeriodNotFound, periodID)
	}
	if p.Economy != economy {
		return nil, fmt.Errorf("%w: period %d belongs to economy %s, not %s",
			ErrPeriodNotFound, periodID, p.Economy, economy)
	}

	if duration <= 0 {
		duration = time.Duration(p.DurationMinutes) * time.Minute
	}
	end := now.Add(duration)
	p.Status = models.PeriodOnGoing
	p.StartTime = &now
	p.EndTime = &end
	p.PausedTime = nil
	p.TotalPaused = 0
	p.DurationMinutes = int(duration / time.Minute)
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("Period started",
		slog.String("type", "sys"),
		slog.String("economy", economy),
		slog.String("label", p.Label),
		slog.Time("ends_at", end))
	m.publish(p)
	return p, nil
}

// Pause freezes the ON_GOING period, recording the pause instant.
func (m *Machine) Pause(ctx context.Context, economy string) (*models.Period, error) {
	mu, err := m.lock(economy)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	p, err := m.repo.FindActive(ctx, economy)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != models.PeriodOnGoing {
		return nil, ErrNoRunningPeriod
	}

	now := m.now()
	p.Status = models.PeriodPaused
	p.PausedTime = &now
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("Period paused",
		slog.String("type", "sys"),
		slog.String("economy", economy),
		slog.String("label", p.Label))
	m.publish(p)
	return p, nil
}

// Resume shifts the end time forward by the elapsed pause duration so the
// remaining time after resume equals the remaining time at the pause
// instant.
func (m *Machine) Resume(ctx context.Context, economy string) (*models.Period, error) {
	mu, err := m.lock(economy)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	p, err := m.repo.FindActive(ctx, economy)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != models.PeriodPaused {
		return nil, ErrNoPausedPeriod
	}
	if p.PausedTime == nil {
		return nil, &InvariantError{PeriodID: p.ID, Reason: "paused period has no paused_time"}
	}
	if p.EndTime == nil {
		return nil, &InvariantError{PeriodID: p.ID, Reason: "paused period has no end_time"}
	}

	now := m.now()
	pauseDuration := now.Sub(*p.PausedTime)
	end := p.EndTime.Add(pauseDuration)
	p.EndTime = &end
	p.TotalPaused += pauseDuration
	p.PausedTime = nil
	p.Status = models.PeriodOnGoing
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("Period resumed",
		slog.String("type", "sys"),
		slog.String("economy", economy),
		slog.String("label", p.Label),
		slog.Duration("paused_for", pauseDuration),
		slog.Time("ends_at", end))
	m.publish(p)
	return p, nil
}

// End terminates the live period, freezing the remaining time at zero.
func (m *Machine) End(ctx context.Context, economy string) (*models.Period, error) {
	mu, err := m.lock(economy)
	if err != nil {
		return nil, err
	}
	defer mu.Unlock()

	p, err := m.repo.FindActive(ctx, economy)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoActivePeriod
	}

	now := m.now()
	p.Status = models.PeriodEnded
	p.EndTime = &now
	p.PausedTime = nil
	if err := m.update(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("Period ended",
		slog.String("type", "sys"),
		slog.String("economy", economy),
		slog.String("label", p.Label))
	m.publish(p)
	return p, nil
}

// GetActive returns the most meaningful period for status display:
// ON_GOING, then PAUSED, then the most recent ENDED. Nil means the economy
// has never been activated.
func (m *Machine) GetActive(ctx context.Context, economy string) (*models.Period, error) {
	if _, ok := m.mu[economy]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEconomy, economy)
	}
	return m.repo.FindCurrent(ctx, economy)
}

// List returns every period of an economy in schedule order.
func (m *Machine) List(ctx context.Context, economy string) ([]*models.Period, error) {
	if _, ok := m.mu[economy]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEconomy, economy)
	}
	return m.repo.List(ctx, economy)
}

// IsRunning is the transaction engine's precondition: true only when the
// period is ON_GOING and its end time has not already passed.
func (m *Machine) IsRunning(ctx context.Context, economy string) (bool, error) {
	p, err := m.repo.FindActive(ctx, economy)
	if err != nil {
		return false, err
	}
	if p == nil || p.Status != models.PeriodOnGoing {
		return false, nil
	}
	return p.EndTime != nil && p.EndTime.After(m.now()), nil
}

// Status builds the status-query response, always carrying the server time.
func (m *Machine) Status(ctx context.Context, economy string) (*StatusResponse, error) {
	p, err := m.GetActive(ctx, economy)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{
		Economy:    economy,
		Status:     models.PeriodNotStarted,
		ServerTime: m.now(),
	}
	if p != nil {
		resp.Status = p.Status
		resp.Label = p.Label
		resp.StartTime = p.StartTime
		resp.EndTime = p.EndTime
		resp.PausedTime = p.PausedTime
	}
	return resp, nil
}

// Sweep converges lazily expired ON_GOING periods to ENDED, keeping their
// original end time. Run periodically by the cron schedule.
func (m *Machine) Sweep(ctx context.Context) {
	for _, economy := range models.Economies {
		mu := m.mu[economy]
		mu.Lock()
		p, err := m.repo.FindActive(ctx, economy)
		if err != nil {
			mu.Unlock()
			slog.Error("Period sweep failed",
				slog.String("type", "error"),
				slog.String("economy", economy),
				slog.Any("error", err))
			continue
		}
		if p == nil || !p.Expired(m.now()) {
			mu.Unlock()
			continue
		}
		p.Status = models.PeriodEnded
		if err := m.update(ctx, p); err != nil {
			mu.Unlock()
			slog.Error("Failed to end expired period",
				slog.String("type", "error"),
				slog.String("economy", economy),
				slog.Any("error", err))
			continue
		}
		mu.Unlock()
		slog.Info("Expired period ended by sweep",
			slog.String("type", "sys"),
			slog.String("economy", economy),
			slog.String("label", p.Label))
		m.publish(p)
	}
}

func (m *Machine) update(ctx context.Context, p *models.Period) error {
	if err := m.repo.Update(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return fmt.Errorf("%w: concurrent transition", ErrPeriodConflict)
		}
		return err
	}
	return nil
}

func (m *Machine) publish(p *models.Period) {
	if m.notifier == nil {
		return
	}
	m.notifier.PublishStatus(StatusEvent{
		Economy:    p.Economy,
		PeriodID:   p.ID,
		Label:      p.Label,
		Status:     p.Status,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		PausedTime: p.PausedTime,
		ServerTime: m.now(),
	})
}
