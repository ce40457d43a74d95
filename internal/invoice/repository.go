package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/invoicing/internal/invoice/calc"
	"github.com/ledgerline/invoicing/internal/platform/db"
	"github.com/ledgerline/invoicing/internal/shared"
)

// PgRepository is the PostgreSQL Repository. Every call joins the
// transaction carried by ctx.
type PgRepository struct {
	db shared.QuerierSource
}

// NewRepository constructs a PgRepository.
func NewRepository(source shared.QuerierSource) *PgRepository {
	return &PgRepository{db: source}
}

const invoiceColumns = `
	i.id, i.uuid, i.invoice_type, i.invoice_number, i.number_scope, i.status, i.company_id,
	i.payroll_id, i.employee_id, i.employee_email, i.to_company_id, i.to_client_id, i.to_name, i.to_email,
	i.schedule_id, i.issue_date, i.due_date, i.currency,
	i.subtotal::text, i.discount::text, i.tax_rate::text, i.tax_amount::text, i.total::text,
	i.from_details, i.to_details, i.payment_network, i.payment_token, i.wallet_address, i.notes,
	COALESCE(i.confirm_token_hash, ''), i.sent_at, i.reviewed_at, i.confirmed_at, i.paid_at, i.cancelled_at,
	i.created_at, i.updated_at,
	b.id, b.uuid, b.company_id, b.status`

const invoiceFrom = `FROM invoices i LEFT JOIN bills b ON b.invoice_id = i.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var (
		inv                                  Invoice
		invType                              Type
		payrollID, employeeID                *int64
		employeeEmail                        *string
		toCompanyID, toClientID              *int64
		toName, toEmail                      string
		subtotal, discount, rate, tax, total string
		fromJSON, toJSON                     []byte
		billID, billCompanyID                *int64
		billUUID                             *uuid.UUID
		billStatus                           *string
	)
	err := row.Scan(
		&inv.ID, &inv.UUID, &invType, &inv.Number, &inv.NumberScope, &inv.Status, &inv.CompanyID,
		&payrollID, &employeeID, &employeeEmail, &toCompanyID, &toClientID, &toName, &toEmail,
		&inv.ScheduleID, &inv.IssueDate, &inv.DueDate, &inv.Currency,
		&subtotal, &discount, &rate, &tax, &total,
		&fromJSON, &toJSON, &inv.PaymentNetwork, &inv.PaymentToken, &inv.WalletAddress, &inv.Notes,
		&inv.ConfirmTokenHash, &inv.SentAt, &inv.ReviewedAt, &inv.ConfirmedAt, &inv.PaidAt, &inv.CancelledAt,
		&inv.CreatedAt, &inv.UpdatedAt,
		&billID, &billUUID, &billCompanyID, &billStatus,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	switch invType {
	case TypeEmployee:
		sub := PayrollSubject{}
		if payrollID != nil {
			sub.PayrollID = *payrollID
		}
		if employeeID != nil {
			sub.EmployeeID = *employeeID
		}
		if employeeEmail != nil {
			sub.EmployeeEmail = *employeeEmail
		}
		inv.Subject = sub
	case TypeB2B:
		inv.Subject = B2BSubject{ToCompanyID: toCompanyID, ToClientID: toClientID, ToName: toName, ToEmail: toEmail}
	default:
		return nil, fmt.Errorf("invoice %d: unknown type %q", inv.ID, invType)
	}

	amounts, err := parseDecimals(subtotal, discount, rate, tax, total)
	if err != nil {
		return nil, fmt.Errorf("invoice %d: %w", inv.ID, err)
	}
	inv.Subtotal, inv.Discount, inv.TaxRate, inv.TaxAmount, inv.Total = amounts[0], amounts[1], amounts[2], amounts[3], amounts[4]

	if err := unmarshalDetails(fromJSON, &inv.From); err != nil {
		return nil, fmt.Errorf("invoice %d from_details: %w", inv.ID, err)
	}
	if err := unmarshalDetails(toJSON, &inv.To); err != nil {
		return nil, fmt.Errorf("invoice %d to_details: %w", inv.ID, err)
	}

	if billID != nil && billUUID != nil && billCompanyID != nil {
		inv.Bill = &BillRef{ID: *billID, UUID: *billUUID, CompanyID: *billCompanyID}
		if billStatus != nil {
			inv.Bill.Status = *billStatus
		}
	}
	return &inv, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

func unmarshalDetails(raw []byte, into *PartyDetails) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func (r *PgRepository) one(ctx context.Context, where string, args ...any) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` ` + invoiceFrom + ` WHERE ` + where
	return scanInvoice(r.db.Querier(ctx).QueryRow(ctx, query, args...))
}

// InsertInvoice stores the header row and returns its id.
func (r *PgRepository) InsertInvoice(ctx context.Context, inv *Invoice) (int64, error) {
	fromJSON, err := json.Marshal(inv.From)
	if err != nil {
		return 0, err
	}
	toJSON, err := json.Marshal(inv.To)
	if err != nil {
		return 0, err
	}

	var (
		payrollID, employeeID   *int64
		employeeEmail           *string
		toCompanyID, toClientID *int64
		toName, toEmail         string
	)
	switch s := inv.Subject.(type) {
	case PayrollSubject:
		payrollID, employeeID, employeeEmail = &s.PayrollID, &s.EmployeeID, &s.EmployeeEmail
		toName, toEmail = inv.To.Name, inv.To.Email
	case B2BSubject:
		toCompanyID, toClientID, toName, toEmail = s.ToCompanyID, s.ToClientID, s.ToName, s.ToEmail
	default:
		return 0, fmt.Errorf("%w: invoice subject missing", shared.ErrBadRequest)
	}

	var id int64
	err = r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoices (
			uuid, invoice_type, invoice_number, number_scope, status, company_id,
			payroll_id, employee_id, employee_email, to_company_id, to_client_id, to_name, to_email,
			schedule_id, issue_date, due_date, currency,
			subtotal, discount, tax_rate, tax_amount, total,
			from_details, to_details, payment_network, payment_token, wallet_address, notes,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28,
			NOW(), NOW()
		)
		RETURNING id, created_at, updated_at`,
		inv.UUID, inv.Type(), inv.Number, inv.NumberScope, inv.Status, inv.CompanyID,
		payrollID, employeeID, employeeEmail, toCompanyID, toClientID, toName, toEmail,
		inv.ScheduleID, inv.IssueDate, inv.DueDate, inv.Currency,
		inv.Subtotal, inv.Discount, inv.TaxRate, inv.TaxAmount, inv.Total,
		fromJSON, toJSON, inv.PaymentNetwork, inv.PaymentToken, inv.WalletAddress, inv.Notes,
	).Scan(&id, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if constraint, ok := db.IsUniqueViolation(err); ok {
			return 0, fmt.Errorf("%w: invoice number %s already used (%s)", shared.ErrConflict, inv.Number, constraint)
		}
		return 0, err
	}
	return id, nil
}

func (r *PgRepository) Get(ctx context.Context, id int64) (*Invoice, error) {
	return r.one(ctx, `i.id = $1`, id)
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	return r.one(ctx, `i.id = $1 FOR UPDATE OF i`, id)
}

func (r *PgRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.one(ctx, `i.uuid = $1`, id)
}

func (r *PgRepository) GetByUUIDForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.one(ctx, `i.uuid = $1 FOR UPDATE OF i`, id)
}

// whereBuilder accumulates numbered predicates.
type whereBuilder struct {
	conditions []string
	args       []any
}

func (w *whereBuilder) add(format string, args ...any) {
	refs := make([]any, len(args))
	for i, a := range args {
		w.args = append(w.args, a)
		refs[i] = len(w.args)
	}
	w.conditions = append(w.conditions, fmt.Sprintf(format, refs...))
}

func (w *whereBuilder) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conditions, " AND ")
}

func addVisibility(w *whereBuilder, vis Visibility, dir Direction) {
	companies := vis.CompanyIDs
	if companies == nil {
		companies = []int64{}
	}
	email := strings.TrimSpace(vis.Email)
	switch dir {
	case DirectionSent:
		w.add(`i.company_id = ANY($%d)`, companies)
	case DirectionReceived:
		w.add(`(i.to_company_id = ANY($%d) OR ($%d <> '' AND i.employee_email = $%d))`, companies, email, email)
	default:
		w.add(`(i.company_id = ANY($%d) OR i.to_company_id = ANY($%d) OR ($%d <> '' AND i.employee_email = $%d))`,
			companies, companies, email, email)
	}
}

// likeEscaper makes search text match literally inside ILIKE patterns.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func buildFilter(vis Visibility, f ListFilter) *whereBuilder {
	w := &whereBuilder{}
	addVisibility(w, vis, f.Direction)
	if f.Status != "" {
		w.add(`i.status = $%d`, f.Status)
	}
	if f.Type != "" {
		w.add(`i.invoice_type = $%d`, f.Type)
	}
	if f.PayrollID > 0 {
		w.add(`i.payroll_id = $%d`, f.PayrollID)
	}
	if f.ClientID > 0 {
		w.add(`i.to_client_id = $%d`, f.ClientID)
	}
	if f.Currency != "" {
		w.add(`i.currency = $%d`, f.Currency)
	}
	if f.Search != "" {
		pattern := "%" + likeEscaper.Replace(f.Search) + "%"
		w.add(`(i.invoice_number ILIKE $%d ESCAPE '\' OR i.to_name ILIKE $%d ESCAPE '\' OR i.to_email ILIKE $%d ESCAPE '\' OR i.employee_email ILIKE $%d ESCAPE '\')`,
			pattern, pattern, pattern, pattern)
	}
	return w
}

func (r *PgRepository) FindByNumber(ctx context.Context, number string, vis Visibility) ([]Invoice, error) {
	w := &whereBuilder{}
	w.add(`i.invoice_number = $%d`, number)
	addVisibility(w, vis, DirectionBoth)
	query := `SELECT ` + invoiceColumns + ` ` + invoiceFrom + ` ` + w.String() + ` ORDER BY i.id LIMIT 10`
	return r.collect(ctx, query, w.args...)
}

func (r *PgRepository) collect(ctx context.Context, query string, args ...any) ([]Invoice, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (r *PgRepository) List(ctx context.Context, vis Visibility, filter ListFilter) ([]Invoice, int, error) {
	w := buildFilter(vis, filter)
	var total int
	if err := r.db.Querier(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices i `+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []Invoice{}, 0, nil
	}
	page := shared.NormalizePage(filter.Page, filter.Limit)
	args := append(w.args, page.Limit, page.Offset())
	query := fmt.Sprintf(`SELECT %s %s %s ORDER BY i.issue_date DESC, i.id DESC LIMIT $%d OFFSET $%d`,
		invoiceColumns, invoiceFrom, w.String(), len(args)-1, len(args))
	items, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *PgRepository) CountByStatus(ctx context.Context, vis Visibility, filter ListFilter) ([]StatusCount, error) {
	w := buildFilter(vis, filter)
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT i.status, COUNT(*) FROM invoices i `+w.String()+` GROUP BY i.status`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SumByCurrency totals non-cancelled invoices per currency.
func (r *PgRepository) SumByCurrency(ctx context.Context, vis Visibility, filter ListFilter) ([]CurrencyTotal, error) {
	w := buildFilter(vis, filter)
	w.add(`i.status <> $%d`, StatusCancelled)
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT i.currency, COUNT(*), COALESCE(SUM(i.total), 0)::text
		FROM invoices i `+w.String()+`
		GROUP BY i.currency
		ORDER BY i.currency`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CurrencyTotal
	for rows.Next() {
		var (
			c   CurrencyTotal
			sum string
		)
		if err := rows.Scan(&c.Currency, &c.Count, &sum); err != nil {
			return nil, err
		}
		if c.Total, err = decimal.NewFromString(sum); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateStatus moves the invoice from one status to another and stamps the
// matching timestamp. A concurrent change of the status is InvalidState.
func (r *PgRepository) UpdateStatus(ctx context.Context, id int64, from, to Status, at time.Time) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoices SET
			status       = $3,
			sent_at      = CASE WHEN $3 = 'SENT' THEN $4 ELSE sent_at END,
			reviewed_at  = CASE WHEN $3 = 'REVIEWED' THEN $4 ELSE reviewed_at END,
			confirmed_at = CASE WHEN $3 = 'CONFIRMED' THEN $4 ELSE confirmed_at END,
			paid_at      = CASE WHEN $3 = 'PAID' THEN $4 ELSE paid_at END,
			cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN $4 ELSE cancelled_at END,
			updated_at   = $4
		WHERE id = $1 AND status = $2`, id, from, string(to), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d is no longer %s", shared.ErrInvalidState, id, from)
	}
	return nil
}

func (r *PgRepository) SetConfirmTokenHash(ctx context.Context, id int64, hash string) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `UPDATE invoices SET confirm_token_hash = $2 WHERE id = $1`, id, hash)
	return err
}

func (r *PgRepository) UpdateTotals(ctx context.Context, id int64, t calc.Totals) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoices
		SET subtotal = $2, discount = $3, tax_rate = $4, tax_amount = $5, total = $6, updated_at = NOW()
		WHERE id = $1`, id, t.Subtotal, t.Discount, t.TaxRate, t.TaxAmount, t.Total)
	return err
}

// Delete removes a DRAFT invoice. Items go with it through the foreign key.
func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %d", shared.ErrNotFound, id)
	}
	return nil
}

// MarkOverdue flips every open invoice due on or before now and returns
// their uuids.
func (r *PgRepository) MarkOverdue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	sources := make([]string, len(overdueSources))
	for i, s := range overdueSources {
		sources[i] = string(s)
	}
	rows, err := r.db.Querier(ctx).Query(ctx, `
		UPDATE invoices SET status = 'OVERDUE', updated_at = $1
		WHERE status = ANY($2) AND due_date <= $1
		RETURNING uuid`, now, sources)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// LatestPayrollIssueDate returns the newest issue date among the
// non-cancelled invoices of a payroll.
func (r *PgRepository) LatestPayrollIssueDate(ctx context.Context, payrollID int64) (*time.Time, error) {
	var latest *time.Time
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT MAX(issue_date) FROM invoices
		WHERE payroll_id = $1 AND status <> 'CANCELLED'`, payrollID).Scan(&latest)
	if err != nil {
		return nil, err
	}
	return latest, nil
}

const itemColumns = `id, invoice_id, description, unit, quantity::text, unit_price::text, discount::text,
	tax_rate::text, subtotal::text, tax_amount::text, total::text, sort_order, created_at, updated_at`

func (r *PgRepository) ListItems(ctx context.Context, invoiceID int64) ([]Item, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT `+itemColumns+`
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY sort_order, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			it     Item
			values [7]string
		)
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Description, &it.Unit,
			&values[0], &values[1], &values[2], &values[3], &values[4], &values[5], &values[6],
			&it.SortOrder, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		d, err := parseDecimals(values[:]...)
		if err != nil {
			return nil, fmt.Errorf("invoice item %d: %w", it.ID, err)
		}
		it.Quantity, it.UnitPrice, it.Discount, it.TaxRate = d[0], d[1], d[2], d[3]
		it.Subtotal, it.TaxAmount, it.Total = d[4], d[5], d[6]
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PgRepository) InsertItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoice_items (invoice_id, description, unit, quantity, unit_price, discount, tax_rate,
			subtotal, tax_amount, total, sort_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`,
		it.InvoiceID, it.Description, it.Unit, it.Quantity, it.UnitPrice, it.Discount, it.TaxRate,
		it.Subtotal, it.TaxAmount, it.Total, it.SortOrder).Scan(&id)
	return id, err
}

func (r *PgRepository) UpdateItem(ctx context.Context, it Item) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoice_items SET
			description = $3, unit = $4, quantity = $5, unit_price = $6, discount = $7, tax_rate = $8,
			subtotal = $9, tax_amount = $10, total = $11, sort_order = $12, updated_at = NOW()
		WHERE id = $1 AND invoice_id = $2`,
		it.ID, it.InvoiceID, it.Description, it.Unit, it.Quantity, it.UnitPrice, it.Discount, it.TaxRate,
		it.Subtotal, it.TaxAmount, it.Total, it.SortOrder)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, it.ID)
	}
	return nil
}

func (r *PgRepository) DeleteItem(ctx context.Context, invoiceID, itemID int64) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE id = $1 AND invoice_id = $2`, itemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
	}
	return nil
}

func (r *PgRepository) DeleteItems(ctx context.Context, invoiceID int64) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID)
	return err
}

// UpdateItemOrders writes the sort orders in one statement.
func (r *PgRepository) UpdateItemOrders(ctx context.Context, invoiceID int64, orders []ItemOrder) error {
	ids := make([]int64, len(orders))
	positions := make([]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ItemID
		positions[i] = o.SortOrder
	}
	_, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoice_items AS it
		SET sort_order = o.sort_order, updated_at = NOW()
		FROM unnest($2::bigint[], $3::int[]) AS o(id, sort_order)
		WHERE it.id = o.id AND it.invoice_id = $1`, invoiceID, ids, positions)
	return err
}
