package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/invoicing/internal/invoice"
	"github.com/ledgerline/invoicing/internal/party"
	"github.com/ledgerline/invoicing/internal/shared"
)

// mockRepository is an in-memory Repository. failOn[method] injects errors.
type mockRepository struct {
	mu        sync.Mutex
	schedules map[int64]*Schedule
	nextID    int64
	failOn    map[string]error
	generated []int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{schedules: map[int64]*Schedule{}, failOn: map[string]error{}}
}

func (m *mockRepository) Insert(_ context.Context, s *Schedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["Insert"]; err != nil {
		return 0, err
	}
	m.nextID++
	stored := *s
	stored.ID = m.nextID
	m.schedules[stored.ID] = &stored
	return stored.ID, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %d: %w", id, shared.ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (m *mockRepository) GetDueForUpdate(_ context.Context, id int64, now time.Time) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["GetDueForUpdate"]; err != nil {
		return nil, err
	}
	s, ok := m.schedules[id]
	if !ok || !s.IsActive || s.NextGenerateDate.After(now) {
		return nil, fmt.Errorf("due schedule %d: %w", id, shared.ErrNotFound)
	}
	c := *s
	return &c, nil
}

func (m *mockRepository) ListDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["ListDue"]; err != nil {
		return nil, err
	}
	var ids []int64
	for id, s := range m.schedules {
		if s.IsActive && !s.NextGenerateDate.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockRepository) List(_ context.Context, companyIDs []int64, f ListFilter) ([]Schedule, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member := map[int64]bool{}
	for _, id := range companyIDs {
		member[id] = true
	}
	var all []Schedule
	for _, s := range m.schedules {
		switch {
		case !member[s.CompanyID]:
		case f.CompanyID > 0 && s.CompanyID != f.CompanyID:
		case f.Active != nil && s.IsActive != *f.Active:
		case f.PayrollID > 0 && (s.PayrollID == nil || *s.PayrollID != f.PayrollID):
		case f.ClientID > 0 && (s.ClientID == nil || *s.ClientID != f.ClientID):
		default:
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	page := shared.NormalizePage(f.Page, f.Limit)
	start := min(page.Offset(), len(all))
	end := min(start+page.Limit, len(all))
	return all[start:end], len(all), nil
}

func (m *mockRepository) Update(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["Update"]; err != nil {
		return err
	}
	if _, ok := m.schedules[s.ID]; !ok {
		return shared.ErrNotFound
	}
	stored := *s
	m.schedules[s.ID] = &stored
	return nil
}

func (m *mockRepository) MarkGenerated(_ context.Context, id int64, at, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn["MarkGenerated"]; err != nil {
		return err
	}
	s, ok := m.schedules[id]
	if !ok {
		return shared.ErrNotFound
	}
	generated := at
	s.LastGeneratedAt = &generated
	s.NextGenerateDate = next
	m.generated = append(m.generated, id)
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

type stubTx struct {
	calls int
}

func (s *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.calls++
	return fn(ctx)
}

type mockParties struct {
	clients  map[int64]party.Client
	payrolls map[int64]party.Payroll
}

func (m *mockParties) GetClient(_ context.Context, id, companyID int64) (party.Client, error) {
	c, ok := m.clients[id]
	if !ok || c.CompanyID != companyID {
		return party.Client{}, fmt.Errorf("%w: client %d", shared.ErrNotFound, id)
	}
	return c, nil
}

func (m *mockParties) GetPayroll(_ context.Context, id, companyID int64) (party.Payroll, error) {
	p, ok := m.payrolls[id]
	if !ok || p.CompanyID != companyID {
		return party.Payroll{}, fmt.Errorf("%w: payroll %d", shared.ErrNotFound, id)
	}
	return p, nil
}

// fakeCreator records scheduled creations. errFor maps schedule ids to the
// error CreateScheduled returns for them.
type fakeCreator struct {
	mu        sync.Mutex
	inputs    []invoice.ScheduledInput
	errFor    map[int64]error
	followUps int
}

func (f *fakeCreator) CreateScheduled(_ context.Context, in invoice.ScheduledInput) (*invoice.Invoice, invoice.FollowUp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[in.ScheduleID]; err != nil {
		return nil, nil, err
	}
	f.inputs = append(f.inputs, in)
	inv := &invoice.Invoice{ID: int64(len(f.inputs)), Number: fmt.Sprintf("INV-%04d", len(f.inputs)), CompanyID: in.CompanyID}
	return inv, func(context.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.followUps++
	}, nil
}
