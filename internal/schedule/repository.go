package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// PgRepository stores schedules in invoice_schedules.
type PgRepository struct {
	db shared.QuerierSource
}

// NewRepository constructs a PgRepository.
func NewRepository(source shared.QuerierSource) *PgRepository {
	return &PgRepository{db: source}
}

const scheduleColumns = `id, uuid, company_id, payroll_id, client_id, frequency, day_of_month, day_of_week,
	generate_days_before, auto_send, is_active, next_generate_date, last_generated_at, template,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var (
		s        Schedule
		template []byte
	)
	err := row.Scan(&s.ID, &s.UUID, &s.CompanyID, &s.PayrollID, &s.ClientID, &s.Rule.Frequency,
		&s.Rule.DayOfMonth, &s.Rule.DayOfWeek, &s.Rule.GenerateDaysBefore, &s.AutoSend, &s.IsActive,
		&s.NextGenerateDate, &s.LastGeneratedAt, &template, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(template) > 0 {
		if err := json.Unmarshal(template, &s.Template); err != nil {
			return nil, fmt.Errorf("decode template of schedule %d: %w", s.ID, err)
		}
	}
	return &s, nil
}

func (r *PgRepository) getOne(ctx context.Context, query string, args ...any) (*Schedule, error) {
	s, err := scanSchedule(r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, shared.ErrNotFound
	}
	return s, err
}

// Insert stores a new schedule and returns its id.
func (r *PgRepository) Insert(ctx context.Context, s *Schedule) (int64, error) {
	template, err := json.Marshal(s.Template)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoice_schedules (uuid, company_id, payroll_id, client_id, frequency, day_of_month,
			day_of_week, generate_days_before, auto_send, is_active, next_generate_date, template,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING id
	`, s.UUID, s.CompanyID, s.PayrollID, s.ClientID, s.Rule.Frequency, s.Rule.DayOfMonth, s.Rule.DayOfWeek,
		s.Rule.GenerateDaysBefore, s.AutoSend, s.IsActive, s.NextGenerateDate, template, s.CreatedAt).Scan(&id)
	if err != nil {
		if _, ok := db.IsUniqueViolation(err); ok {
			return 0, fmt.Errorf("%w: schedule %s already exists", shared.ErrConflict, s.UUID)
		}
		return 0, err
	}
	return id, nil
}

// Get loads a schedule by id.
func (r *PgRepository) Get(ctx context.Context, id int64) (*Schedule, error) {
	s, err := r.getOne(ctx, `SELECT `+scheduleColumns+` FROM invoice_schedules WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("schedule %d: %w", id, err)
	}
	return s, nil
}

// GetDueForUpdate locks a schedule that is still active and due at now.
// A schedule claimed by a concurrent run is reported as ErrNotFound.
func (r *PgRepository) GetDueForUpdate(ctx context.Context, id int64, now time.Time) (*Schedule, error) {
	s, err := r.getOne(ctx, `
		SELECT `+scheduleColumns+` FROM invoice_schedules
		WHERE id = $1 AND is_active AND next_generate_date <= $2
		FOR UPDATE SKIP LOCKED
	`, id, now)
	if err != nil {
		return nil, fmt.Errorf("due schedule %d: %w", id, err)
	}
	return s, nil
}

// ListDue returns the ids of active schedules due at now, oldest first.
func (r *PgRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT id FROM invoice_schedules
		WHERE is_active AND next_generate_date <= $1
		ORDER BY next_generate_date, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// List returns one page of the schedules owned by companyIDs.
func (r *PgRepository) List(ctx context.Context, companyIDs []int64, filter ListFilter) ([]Schedule, int, error) {
	if companyIDs == nil {
		companyIDs = []int64{}
	}
	where := `WHERE company_id = ANY($1)
		AND ($2::bigint = 0 OR company_id = $2)
		AND ($3::boolean IS NULL OR is_active = $3)
		AND ($4::bigint = 0 OR payroll_id = $4)
		AND ($5::bigint = 0 OR client_id = $5)`
	args := []any{companyIDs, filter.CompanyID, filter.Active, filter.PayrollID, filter.ClientID}

	var total int
	if err := r.db.Querier(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice_schedules `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []Schedule{}, 0, nil
	}
	page := shared.NormalizePage(filter.Page, filter.Limit)
	args = append(args, page.Limit, page.Offset())
	rows, err := r.db.Querier(ctx).Query(ctx,
		`SELECT `+scheduleColumns+` FROM invoice_schedules `+where+` ORDER BY next_generate_date, id LIMIT $6 OFFSET $7`,
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Schedule, 0, page.Limit)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *s)
	}
	return out, total, rows.Err()
}

// Update writes the rule, template and activation fields of s.
func (r *PgRepository) Update(ctx context.Context, s *Schedule) error {
	template, err := json.Marshal(s.Template)
	if err != nil {
		return err
	}
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoice_schedules
		SET frequency = $2, day_of_month = $3, day_of_week = $4, generate_days_before = $5,
			auto_send = $6, is_active = $7, next_generate_date = $8, template = $9, updated_at = $10
		WHERE id = $1
	`, s.ID, s.Rule.Frequency, s.Rule.DayOfMonth, s.Rule.DayOfWeek, s.Rule.GenerateDaysBefore,
		s.AutoSend, s.IsActive, s.NextGenerateDate, template, s.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %d", shared.ErrNotFound, s.ID)
	}
	return nil
}

// MarkGenerated records a generation at and moves the schedule to next.
func (r *PgRepository) MarkGenerated(ctx context.Context, id int64, at, next time.Time) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoice_schedules
		SET last_generated_at = $2, next_generate_date = $3, updated_at = $2
		WHERE id = $1
	`, id, at, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %d", shared.ErrNotFound, id)
	}
	return nil
}

// Delete removes a schedule. Generated invoices keep existing with their
// schedule reference cleared.
func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM invoice_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %d", shared.ErrNotFound, id)
	}
	return nil
}
