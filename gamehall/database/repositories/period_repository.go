package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/stellarfest/gamehall/gamehall/database/models"
)

// ErrVersionConflict reports a lost optimistic-lock race on a period row.
var ErrVersionConflict = errors.New("period row version conflict")

type PeriodRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Period, error)
	// FindActive returns the single ON_GOING or PAUSED period of an economy,
	// nil when there is none.
	FindActive(ctx context.Context, economy string) (*models.Period, error)
	// FindCurrent returns the display period: ON_GOING, else PAUSED, else the
	// most recently ended one. Nil when the economy was never activated.
	FindCurrent(ctx context.Context, economy string) (*models.Period, error)
	List(ctx context.Context, economy string) ([]*models.Period, error)
	// Update persists a transition, bumping the row version. Fails with
	// ErrVersionConflict when another transition won the race.
	Update(ctx context.Context, period *models.Period) error
}

type periodRepository struct {
	db *bun.DB
}

func NewPeriodRepository(db *bun.DB) PeriodRepository {
	return &periodRepository{db: db}
}

func (r *periodRepository) GetByID(ctx context.Context, id int64) (*models.Period, error) {
	period := new(models.Period)
	err := r.db.NewSelect().
		Model(period).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

func (r *periodRepository) FindActive(ctx context.Context, economy string) (*models.Period, error) {
	period := new(models.Period)
	err := r.db.NewSelect().
		Model(period).
		Where("economy = ?", economy).
		Where("status IN (?)", bun.In([]models.PeriodStatus{models.PeriodOnGoing, models.PeriodPaused})).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

func (r *periodRepository) FindCurrent(ctx context.Context, economy string) (*models.Period, error) {
	active, err := r.FindActive(ctx, economy)
	if err != nil || active != nil {
		return active, err
	}

	period := new(models.Period)
	err = r.db.NewSelect().
		Model(period).
		Where("economy = ?", economy).
		Where("status = ?", models.PeriodEnded).
		OrderExpr("end_time DESC NULLS LAST").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return period, nil
}

func (r *periodRepository) List(ctx context.Context, economy string) ([]*models.Period, error) {
	var periods []*models.Period
	err := r.db.NewSelect().
		Model(&periods).
		Where("economy = ?", economy).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *periodRepository) Update(ctx context.Context, period *models.Period) error {
	previous := period.Version
	period.Version++
	period.UpdatedAt = time.Now()

	res, err := r.db.NewUpdate().
		Model(period).
		WherePK().
		Where("version = ?", previous).
		Exec(ctx)
	if err != nil {
		period.Version = previous
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		period.Version = previous
		return ErrVersionConflict
	}
	return nil
}
