package invoice

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/invoicing/internal/audit"
	"github.com/ledgerline/invoicing/internal/bill"
	"github.com/ledgerline/invoicing/internal/invoice/calc"
	"github.com/ledgerline/invoicing/internal/invoice/numbering"
	"github.com/ledgerline/invoicing/internal/party"
	"github.com/ledgerline/invoicing/internal/shared"
)

// mockRepository is an in-memory Repository. Setting failOn[method] makes
// that method return the error.
type mockRepository struct {
	mu        sync.Mutex
	invoices  map[int64]*Invoice
	items     map[int64]Item
	bills     map[int64]BillRef
	nextID    int64
	nextItem  int64
	failOn    map[string]error
	orderRuns int
	written   []calc.Totals
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		invoices: map[int64]*Invoice{},
		items:    map[int64]Item{},
		bills:    map[int64]BillRef{},
		failOn:   map[string]error{},
	}
}

func (m *mockRepository) fail(method string) error {
	return m.failOn[method]
}

func (m *mockRepository) clone(inv *Invoice) *Invoice {
	c := *inv
	c.Items = nil
	if b, ok := m.bills[inv.ID]; ok {
		ref := b
		c.Bill = &ref
	}
	return &c
}

// attachBill links a bill the way the bills LEFT JOIN would.
func (m *mockRepository) attachBill(invoiceUUID uuid.UUID, b bill.Bill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inv := range m.invoices {
		if inv.UUID == invoiceUUID {
			m.bills[id] = BillRef{ID: b.ID, UUID: b.UUID, CompanyID: b.CompanyID, Status: string(b.Status)}
		}
	}
}

func (m *mockRepository) InsertInvoice(_ context.Context, inv *Invoice) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertInvoice"); err != nil {
		return 0, err
	}
	for _, existing := range m.invoices {
		if existing.NumberScope == inv.NumberScope && existing.Number == inv.Number {
			return 0, fmt.Errorf("%w: duplicate number", shared.ErrConflict)
		}
	}
	m.nextID++
	stored := *inv
	stored.ID = m.nextID
	stored.Items = nil
	m.invoices[stored.ID] = &stored
	return stored.ID, nil
}

func (m *mockRepository) get(id int64) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return m.clone(inv), nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Get"); err != nil {
		return nil, err
	}
	return m.get(id)
}

func (m *mockRepository) GetForUpdate(_ context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetForUpdate"); err != nil {
		return nil, err
	}
	return m.get(id)
}

func (m *mockRepository) byUUID(id uuid.UUID) (*Invoice, error) {
	for _, inv := range m.invoices {
		if inv.UUID == id {
			return m.clone(inv), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *mockRepository) GetByUUID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUUID(id)
}

func (m *mockRepository) GetByUUIDForUpdate(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUUID(id)
}

func visibleTo(inv *Invoice, vis Visibility, dir Direction) bool {
	sent := slices.Contains(vis.CompanyIDs, inv.CompanyID)
	received := false
	switch s := inv.Subject.(type) {
	case PayrollSubject:
		received = vis.Email != "" && s.EmployeeEmail == vis.Email
	case B2BSubject:
		received = s.ToCompanyID != nil && slices.Contains(vis.CompanyIDs, *s.ToCompanyID)
	}
	switch dir {
	case DirectionSent:
		return sent
	case DirectionReceived:
		return received
	}
	return sent || received
}

func (m *mockRepository) filtered(vis Visibility, f ListFilter) []Invoice {
	var out []Invoice
	for _, inv := range m.invoices {
		if !visibleTo(inv, vis, f.Direction) {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Type != "" && inv.Type() != f.Type {
			continue
		}
		if f.Currency != "" && inv.Currency != f.Currency {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(inv.Number+" "+inv.To.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, *m.clone(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *mockRepository) FindByNumber(_ context.Context, number string, vis Visibility) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invoice
	for _, inv := range m.filtered(vis, ListFilter{}) {
		if inv.Number == number {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *mockRepository) List(_ context.Context, vis Visibility, f ListFilter) ([]Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("List"); err != nil {
		return nil, 0, err
	}
	all := m.filtered(vis, f)
	page := shared.NormalizePage(f.Page, f.Limit)
	start := min(page.Offset(), len(all))
	end := min(start+page.Limit, len(all))
	return all[start:end], len(all), nil
}

func (m *mockRepository) CountByStatus(_ context.Context, vis Visibility, f ListFilter) ([]StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountByStatus"); err != nil {
		return nil, err
	}
	counts := map[Status]int{}
	for _, inv := range m.filtered(vis, f) {
		counts[inv.Status]++
	}
	var out []StatusCount
	for st, n := range counts {
		out = append(out, StatusCount{Status: st, Count: n})
	}
	return out, nil
}

func (m *mockRepository) SumByCurrency(_ context.Context, vis Visibility, f ListFilter) ([]CurrencyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SumByCurrency"); err != nil {
		return nil, err
	}
	sums := map[string]*CurrencyTotal{}
	for _, inv := range m.filtered(vis, f) {
		if inv.Status == StatusCancelled {
			continue
		}
		c, ok := sums[inv.Currency]
		if !ok {
			c = &CurrencyTotal{Currency: inv.Currency}
			sums[inv.Currency] = c
		}
		c.Count++
		c.Total = c.Total.Add(inv.Total)
	}
	var out []CurrencyTotal
	for _, c := range sums {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id int64, from, to Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateStatus"); err != nil {
		return err
	}
	inv, ok := m.invoices[id]
	if !ok || inv.Status != from {
		return shared.ErrInvalidState
	}
	inv.Status = to
	inv.UpdatedAt = at
	stamp(inv, to, at)
	return nil
}

func (m *mockRepository) SetConfirmTokenHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[id].ConfirmTokenHash = hash
	return nil
}

func (m *mockRepository) UpdateTotals(_ context.Context, id int64, t calc.Totals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateTotals"); err != nil {
		return err
	}
	m.written = append(m.written, t)
	applyTotals(m.invoices[id], t)
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.invoices, id)
	for itemID, it := range m.items {
		if it.InvoiceID == id {
			delete(m.items, itemID)
		}
	}
	return nil
}

func (m *mockRepository) MarkOverdue(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkOverdue"); err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, inv := range m.invoices {
		if slices.Contains(overdueSources, inv.Status) && !inv.DueDate.After(now) {
			inv.Status = StatusOverdue
			out = append(out, inv.UUID)
		}
	}
	return out, nil
}

func (m *mockRepository) LatestPayrollIssueDate(_ context.Context, payrollID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *time.Time
	for _, inv := range m.invoices {
		p, ok := inv.Subject.(PayrollSubject)
		if !ok || p.PayrollID != payrollID || inv.Status == StatusCancelled {
			continue
		}
		if latest == nil || inv.IssueDate.After(*latest) {
			d := inv.IssueDate
			latest = &d
		}
	}
	return latest, nil
}

func (m *mockRepository) ListItems(_ context.Context, invoiceID int64) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListItems"); err != nil {
		return nil, err
	}
	out := []Item{}
	for _, it := range m.items {
		if it.InvoiceID == invoiceID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockRepository) InsertItem(_ context.Context, it Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertItem"); err != nil {
		return 0, err
	}
	m.nextItem++
	it.ID = m.nextItem
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *mockRepository) UpdateItem(_ context.Context, it Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return shared.ErrNotFound
	}
	m.items[it.ID] = it
	return nil
}

func (m *mockRepository) DeleteItem(_ context.Context, invoiceID, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemID]
	if !ok || it.InvoiceID != invoiceID {
		return shared.ErrNotFound
	}
	delete(m.items, itemID)
	return nil
}

func (m *mockRepository) DeleteItems(_ context.Context, invoiceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.InvoiceID == invoiceID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *mockRepository) UpdateItemOrders(_ context.Context, invoiceID int64, orders []ItemOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderRuns++
	for _, o := range orders {
		it, ok := m.items[o.ItemID]
		if ok && it.InvoiceID == invoiceID {
			it.SortOrder = o.SortOrder
			m.items[o.ItemID] = it
		}
	}
	return nil
}

// stubTx runs fn inline and counts transactions.
type stubTx struct {
	calls int
}

func (s *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls++
	return fn(ctx)
}

type mockNumbers struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func newMockNumbers() *mockNumbers {
	return &mockNumbers{counters: map[string]int64{}}
}

func (m *mockNumbers) next(scope string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[scope]++
	return m.counters[scope]
}

func (m *mockNumbers) Payroll(_ context.Context, payrollID, employeeID int64) (numbering.Number, error) {
	if m.err != nil {
		return numbering.Number{}, m.err
	}
	scope := numbering.PayrollScope(payrollID, employeeID)
	return numbering.Number{Value: numbering.FormatPayroll(m.next(scope)), Scope: scope}, nil
}

func (m *mockNumbers) Monthly(_ context.Context, companyID int64, at time.Time) (numbering.Number, error) {
	scope := numbering.MonthlyScope(companyID, at)
	return numbering.Number{Value: numbering.FormatMonthly(at, companyID, m.next(scope)), Scope: scope}, nil
}

func (m *mockNumbers) B2B(_ context.Context, senderID int64, recipient numbering.Recipient) (numbering.Number, error) {
	if m.err != nil {
		return numbering.Number{}, m.err
	}
	scope := numbering.B2BScope(senderID, recipient)
	return numbering.Number{Value: numbering.FormatB2B(m.next(scope)), Scope: scope}, nil
}

type mockParties struct {
	companies map[int64]party.Company
	clients   map[int64]party.Client
	payrolls  map[int64]party.Payroll
}

func (m *mockParties) GetCompany(_ context.Context, id int64) (party.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return party.Company{}, shared.ErrNotFound
	}
	return c, nil
}

func (m *mockParties) GetClient(_ context.Context, id, companyID int64) (party.Client, error) {
	c, ok := m.clients[id]
	if !ok || c.CompanyID != companyID {
		return party.Client{}, shared.ErrNotFound
	}
	return c, nil
}

func (m *mockParties) GetPayroll(_ context.Context, id, companyID int64) (party.Payroll, error) {
	p, ok := m.payrolls[id]
	if !ok || p.CompanyID != companyID {
		return party.Payroll{}, shared.ErrNotFound
	}
	return p, nil
}

type mockAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (m *mockAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	for i, l := range m.logs {
		out[i] = l.Action
	}
	return out
}

// Window lets the recorded logs back a real audit.Service.
func (m *mockAudit) Window(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, l := range m.logs {
		if l.Entity != q.Entity || l.EntityID != q.EntityID {
			continue
		}
		if q.Action != "" && l.Action != q.Action {
			continue
		}
		id := l.ActorID
		out = append(out, audit.Entry{
			At: l.At, ActorID: &id, ActorEmail: l.ActorEmail, Action: l.Action,
			FromStatus: l.FromStatus, ToStatus: l.ToStatus, Meta: l.Meta,
		})
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type mockIdempotency struct {
	seen map[string]bool
}

func (m *mockIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	k := module + ":" + key
	if m.seen[k] {
		return fmt.Errorf("%w: idempotency key %s", shared.ErrConflict, key)
	}
	m.seen[k] = true
	return nil
}

type mockSideEffects struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *mockSideEffects) SideEffectFailed(effect string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[effect]++
}
