package bill

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/money"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

// memStore serializes every call like the counter row lock does.
type memStore struct {
	mu      sync.Mutex
	last    int64
	byOrder map[int64]*Bill
	byNum   map[int64]*Bill
}

func newMemStore() *memStore {
	return &memStore{byOrder: map[int64]*Bill{}, byNum: map[int64]*Bill{}}
}

func (s *memStore) FindByOrder(_ context.Context, orderID int64) (*Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byOrder[orderID]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) NextNumber(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last, nil
}

func (s *memStore) Insert(_ context.Context, b *Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = int64(len(s.byNum) + 1)
	s.byOrder[b.OrderID] = b
	s.byNum[b.Number] = b
	return nil
}

func (s *memStore) GetByNumber(_ context.Context, number int64) (*Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.byNum[number]; ok {
		return b, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) Cancel(_ context.Context, number int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byNum[number]
	if !ok || b.CanceledAt != nil {
		return false, nil
	}
	b.CanceledAt = &at
	return true, nil
}

func paid(id int64) *order.Order {
	return &order.Order{
		ID:         id,
		Reference:  uuid.New(),
		CustomerID: 1,
		Status:     order.StatusPaid,
		Price:      money.New(decimal.NewFromInt(100), decimal.NewFromInt(20)),
	}
}

var acme = &customer.Customer{ID: 1, Name: "Jane Doe", Company: "ACME", Email: "jane@acme.test", VATNumber: "FR123"}

func TestLabel(t *testing.T) {
	tests := []struct {
		number int64
		label  string
	}{
		{1, "WEB000001"},
		{42, "WEB000042"},
		{999999, "WEB999999"},
		{1000000, "WEB1000000"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, Label(tt.number))
			n, err := ParseLabel(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.number, n)
		})
	}
}

func TestParseLabel_Invalid(t *testing.T) {
	for _, label := range []string{"", "WEB", "WEB12", "INV000001", "WEB00000x", "WEB000000"} {
		t.Run(label, func(t *testing.T) {
			_, err := ParseLabel(label)
			require.ErrorIs(t, err, ErrInvalidLabel)
		})
	}
}

func TestIssue(t *testing.T) {
	seq := NewSequencer(newMemStore())
	o := paid(10)

	b, created, err := seq.Issue(context.Background(), o, acme)
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, int64(1), b.Number)
	assert.Equal(t, "WEB000001", b.Label())
	assert.Equal(t, o.Reference, b.OrderReference)
	assert.True(t, o.Price.Equal(b.Price))
	assert.Equal(t, "ACME", b.Customer.Company)
	assert.False(t, b.Canceled())
}

func TestIssue_Idempotent(t *testing.T) {
	store := newMemStore()
	seq := NewSequencer(store)
	o := paid(10)

	first, _, err := seq.Issue(context.Background(), o, acme)
	require.NoError(t, err)
	second, created, err := seq.Issue(context.Background(), o, acme)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, int64(1), store.last)
}

func TestIssue_SnapshotIsFrozen(t *testing.T) {
	seq := NewSequencer(newMemStore())
	c := *acme

	b, _, err := seq.Issue(context.Background(), paid(10), &c)
	require.NoError(t, err)

	c.Company = "Renamed"
	assert.Equal(t, "ACME", b.Customer.Company)
}

func TestIssue_NotPaid(t *testing.T) {
	seq := NewSequencer(newMemStore())
	o := paid(10)
	o.Status = order.StatusPending

	_, _, err := seq.Issue(context.Background(), o, acme)
	require.ErrorIs(t, err, ErrOrderNotPaid)
}

func TestIssue_ConcurrentNumbersAreGapFree(t *testing.T) {
	store := newMemStore()
	seq := NewSequencer(store)

	const n = 50
	var wg sync.WaitGroup
	numbers := make([]int64, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, _, err := seq.Issue(context.Background(), paid(int64(i+1)), acme)
			if assert.NoError(t, err) {
				numbers[i] = b.Number
			}
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, got := range numbers {
		assert.Equal(t, int64(i+1), got)
	}
}

func TestCancel(t *testing.T) {
	seq := NewSequencer(newMemStore())
	_, _, err := seq.Issue(context.Background(), paid(10), acme)
	require.NoError(t, err)

	b, err := seq.Cancel(context.Background(), "WEB000001")
	require.NoError(t, err)
	assert.True(t, b.Canceled())
	canceledAt := *b.CanceledAt

	b, err = seq.Cancel(context.Background(), "WEB000001")
	require.ErrorIs(t, err, ErrAlreadyCanceled)
	assert.Equal(t, canceledAt, *b.CanceledAt)
}

func TestCancel_NotFound(t *testing.T) {
	seq := NewSequencer(newMemStore())

	_, err := seq.Cancel(context.Background(), "WEB000009")
	require.ErrorIs(t, err, ErrNotFound)
}
