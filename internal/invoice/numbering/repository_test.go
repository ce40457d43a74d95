package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/invoicing/internal/platform/db"
)

type scriptedRow struct {
	value any
	err   error
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.value.(string)
	case *int64:
		*d = r.value.(int64)
	default:
		return errors.New("unexpected scan target")
	}
	return nil
}

// recordingQuerier captures the last statement and answers QueryRow with row.
type recordingQuerier struct {
	sql  string
	args []any
	row  scriptedRow
}

func (q *recordingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not used")
}

func (q *recordingQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (q *recordingQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

type querierSource struct{ q *recordingQuerier }

func (s querierSource) Querier(context.Context) db.Querier { return s.q }

func TestLatestB2BNumberPicksHighestNumber(t *testing.T) {
	q := &recordingQuerier{row: scriptedRow{value: "INV-B2B-0042"}}
	repo := NewRepository(querierSource{q})

	number, err := repo.LatestB2BNumber(context.Background(), 2, Recipient{CompanyID: 3})
	require.NoError(t, err)
	assert.Equal(t, "INV-B2B-0042", number)
	assert.Contains(t, q.sql, "invoice_number LIKE 'INV-B2B-%'")
	assert.Contains(t, q.sql, "ORDER BY invoice_number DESC")
	assert.NotContains(t, q.sql, "created_at")
	assert.Equal(t, []any{int64(2), int64(3)}, q.args)

	_, err = repo.LatestB2BNumber(context.Background(), 2, Recipient{Name: " Acme "})
	require.NoError(t, err)
	assert.Contains(t, q.sql, "to_company_id IS NULL")
	assert.Contains(t, q.sql, "ORDER BY invoice_number DESC")
	assert.Equal(t, " Acme ", q.args[1])
}

func TestLatestB2BNumberWithoutHistory(t *testing.T) {
	q := &recordingQuerier{row: scriptedRow{err: pgx.ErrNoRows}}
	number, err := NewRepository(querierSource{q}).LatestB2BNumber(context.Background(), 2, Recipient{CompanyID: 3})
	require.NoError(t, err)
	assert.Empty(t, number)
}

func TestCountCompanyInvoicesInMonthCountsEveryType(t *testing.T) {
	q := &recordingQuerier{row: scriptedRow{value: int64(7)}}
	from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	count, err := NewRepository(querierSource{q}).CountCompanyInvoicesInMonth(context.Background(), 9, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NotContains(t, q.sql, "invoice_type")
}
