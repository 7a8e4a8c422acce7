package repository

import (
	"context"
	"database/sql"

	"github.com/tradelens/ms-go-billing/app/entity"
)

type PlanRepository struct {
	db DBTX
}

func NewPlanRepository(db DBTX) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `
	id, code, name, amount, currency, operation, ` + "`interval`" + `, trial, active, created_at, updated_at
`

func (r *PlanRepository) FindByCode(ctx context.Context, code string) (*entity.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE code = ? AND active = TRUE LIMIT 1`

	plan := &entity.Plan{}
	if err := scanPlan(r.db.QueryRowContext(ctx, query, code), plan); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return plan, nil
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]*entity.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE active = TRUE ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]*entity.Plan, 0)
	for rows.Next() {
		item := &entity.Plan{}
		if err := scanPlan(rows, item); err != nil {
			return nil, err
		}
		plans = append(plans, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return plans, nil
}

func scanPlan(scan rowScanner, plan *entity.Plan) error {
	var interval sql.NullString

	err := scan.Scan(
		&plan.ID,
		&plan.Code,
		&plan.Name,
		&plan.Amount,
		&plan.Currency,
		&plan.Operation,
		&interval,
		&plan.Trial,
		&plan.Active,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return err
	}

	plan.Interval = stringPtrFromNull(interval)

	return nil
}
