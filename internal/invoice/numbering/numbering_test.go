package numbering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu       sync.Mutex
	counters map[string]int64
	payroll  map[[2]int64]int64
	monthly  int64
	latest   string
	nextErr  error
}

func newMockStore() *mockStore {
	return &mockStore{counters: map[string]int64{}, payroll: map[[2]int64]int64{}}
}

func (m *mockStore) Next(ctx context.Context, scope string, floor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextErr != nil {
		return 0, m.nextErr
	}
	current := m.counters[scope]
	if floor > current {
		current = floor
	}
	current++
	m.counters[scope] = current
	return current, nil
}

func (m *mockStore) CountPayrollInvoices(ctx context.Context, payrollID, employeeID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payroll[[2]int64{payrollID, employeeID}], nil
}

func (m *mockStore) CountCompanyInvoicesInMonth(ctx context.Context, companyID int64, from, to time.Time) (int64, error) {
	return m.monthly, nil
}

func (m *mockStore) LatestB2BNumber(ctx context.Context, senderID int64, recipient Recipient) (string, error) {
	return m.latest, nil
}

func TestPayrollSequenceContinuesFromExistingInvoices(t *testing.T) {
	store := newMockStore()
	store.payroll[[2]int64{10, 5}] = 3
	gen := NewGenerator(store)

	num, err := gen.Payroll(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "INV-0004", num.Value)
	assert.Equal(t, "payroll:10:5", num.Scope)

	num, err = gen.Payroll(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Equal(t, "INV-0005", num.Value)
}

func TestMonthlyFormat(t *testing.T) {
	store := newMockStore()
	store.monthly = 11
	gen := NewGenerator(store)

	num, err := gen.Monthly(context.Background(), 7, time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "INV-202403-7-0012", num.Value)
	assert.Equal(t, "monthly:7:202403", num.Scope)
}

func TestB2BSequence(t *testing.T) {
	tests := []struct {
		name   string
		latest string
		want   string
	}{
		{"first invoice", "", "INV-B2B-0001"},
		{"continues latest", "INV-B2B-0041", "INV-B2B-0042"},
		{"unparsable latest", "INV-B2B-abc", "INV-B2B-0001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.latest = tt.latest
			gen := NewGenerator(store)

			num, err := gen.B2B(context.Background(), 1, Recipient{Name: "Acme Ltd"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, num.Value)
			assert.Equal(t, "b2b:1:name:acme ltd", num.Scope)
		})
	}
}

func TestB2BScopeByCompanyID(t *testing.T) {
	assert.Equal(t, "b2b:3:company:9", B2BScope(3, Recipient{CompanyID: 9, Name: "ignored"}))
}

func TestB2BRequiresRecipient(t *testing.T) {
	gen := NewGenerator(newMockStore())
	_, err := gen.B2B(context.Background(), 1, Recipient{Name: "  "})
	assert.Error(t, err)
}

func TestConcurrentCallersGetDistinctNumbers(t *testing.T) {
	store := newMockStore()
	gen := NewGenerator(store)

	const workers = 50
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := gen.Payroll(context.Background(), 1, 1)
			if err == nil {
				results <- num.Value
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for v := range results {
		assert.False(t, seen[v], "duplicate number %s", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers)
}

func TestNextErrorIsWrapped(t *testing.T) {
	store := newMockStore()
	store.nextErr = errors.New("boom")
	_, err := NewGenerator(store).Payroll(context.Background(), 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.nextErr)
}

func TestParseSequence(t *testing.T) {
	seq, ok := ParseSequence("INV-202401-7-0012")
	assert.True(t, ok)
	assert.Equal(t, int64(12), seq)

	_, ok = ParseSequence("INV-")
	assert.False(t, ok)
	_, ok = ParseSequence("garbage")
	assert.False(t, ok)
	assert.Equal(t, "INV-10000", FormatPayroll(10000))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePerPayroll, m)
	m, err = ParseMode("MONTHLY")
	require.NoError(t, err)
	assert.Equal(t, ModeMonthly, m)
	_, err = ParseMode("yearly")
	assert.Error(t, err)
}
