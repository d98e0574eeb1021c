package reconcile

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/credit"
	"github.com/xenking/reprog-billing/internal/domain/customer"
	"github.com/xenking/reprog-billing/internal/domain/notice"
	"github.com/xenking/reprog-billing/internal/domain/order"
)

var errUniqueViolation = errors.New("unique violation")

type memState struct {
	orders   map[uuid.UUID]order.Order
	ledger   map[int64]credit.Entry
	balances map[int64]int64
	lastBill int64
	bills    map[int64]bill.Bill
	outbox   []notice.Notice
	captures map[int64]time.Time
}

func (s memState) clone() memState {
	return memState{
		orders:   maps.Clone(s.orders),
		ledger:   maps.Clone(s.ledger),
		balances: maps.Clone(s.balances),
		lastBill: s.lastBill,
		bills:    maps.Clone(s.bills),
		outbox:   slices.Clone(s.outbox),
		captures: maps.Clone(s.captures),
	}
}

// memDB runs one transaction at a time, which is what the order row lock
// gives concurrent settles of the same order. A failed transaction restores
// the state it started from.
type memDB struct {
	mu        sync.Mutex
	state     memState
	customers map[int64]customer.Customer
	nextID    int64

	failEnqueue bool
}

func newMemDB(customers ...customer.Customer) *memDB {
	db := &memDB{
		state: memState{
			orders:   map[uuid.UUID]order.Order{},
			ledger:   map[int64]credit.Entry{},
			balances: map[int64]int64{},
			bills:    map[int64]bill.Bill{},
			captures: map[int64]time.Time{},
		},
		customers: map[int64]customer.Customer{},
	}
	for _, c := range customers {
		db.customers[c.ID] = c
	}
	return db
}

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	saved := db.state.clone()
	tx := &memTx{db: db}
	if err := fn(ctx, Stores{Orders: tx, Credits: tx, Bills: tx, Customers: tx, Outbox: tx, Captures: tx}); err != nil {
		db.state = saved
		return err
	}
	return nil
}

// snapshot returns a copy of the committed state.
func (db *memDB) snapshot() memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.clone()
}

func (db *memDB) put(o order.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	o.ID = db.nextID
	db.state.orders[o.Reference] = o
}

func (db *memDB) order(ref uuid.UUID) order.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.orders[ref]
}

type memTx struct {
	db *memDB
}

func (t *memTx) Create(_ context.Context, o *order.Order) error {
	t.db.nextID++
	o.ID = t.db.nextID
	t.db.state.orders[o.Reference] = *o
	return nil
}

func (t *memTx) GetByReference(_ context.Context, ref uuid.UUID) (*order.Order, error) {
	o, ok := t.db.state.orders[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) LockByReference(ctx context.Context, ref uuid.UUID) (*order.Order, error) {
	return t.GetByReference(ctx, ref)
}

func (t *memTx) SaveTransition(_ context.Context, o *order.Order, from order.Status) (bool, error) {
	stored, ok := t.db.state.orders[o.Reference]
	if !ok || stored.Status != from {
		return false, nil
	}
	stored.Status = o.Status
	stored.InstructionID = o.InstructionID
	stored.UpdatedAt = o.UpdatedAt
	stored.Version++
	t.db.state.orders[o.Reference] = stored
	return true, nil
}

func (t *memTx) MarkCredited(_ context.Context, orderID int64) (bool, error) {
	for ref, o := range t.db.state.orders {
		if o.ID != orderID {
			continue
		}
		if o.Status != order.StatusPaid || o.Credited {
			return false, nil
		}
		o.Credited = true
		t.db.state.orders[ref] = o
		return true, nil
	}
	return false, nil
}

func (t *memTx) AppendEntry(_ context.Context, e credit.Entry) error {
	if _, ok := t.db.state.ledger[e.OrderID]; ok {
		return errUniqueViolation
	}
	t.db.state.ledger[e.OrderID] = e
	return nil
}

func (t *memTx) IncrementBalance(_ context.Context, customerID, amount int64) error {
	t.db.state.balances[customerID] += amount
	return nil
}

func (t *memTx) FindByOrder(_ context.Context, orderID int64) (*bill.Bill, error) {
	b, ok := t.db.state.bills[orderID]
	if !ok {
		return nil, bill.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) NextNumber(context.Context) (int64, error) {
	t.db.state.lastBill++
	return t.db.state.lastBill, nil
}

func (t *memTx) Insert(_ context.Context, b *bill.Bill) error {
	if _, ok := t.db.state.bills[b.OrderID]; ok {
		return errUniqueViolation
	}
	b.ID = b.Number
	t.db.state.bills[b.OrderID] = *b
	return nil
}

func (t *memTx) GetByNumber(_ context.Context, number int64) (*bill.Bill, error) {
	for _, b := range t.db.state.bills {
		if b.Number == number {
			return &b, nil
		}
	}
	return nil, bill.ErrNotFound
}

func (t *memTx) Cancel(_ context.Context, number int64, at time.Time) (bool, error) {
	for id, b := range t.db.state.bills {
		if b.Number == number && b.CanceledAt == nil {
			b.CanceledAt = &at
			t.db.state.bills[id] = b
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) GetByID(_ context.Context, id int64) (*customer.Customer, error) {
	c, ok := t.db.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) Enqueue(_ context.Context, n notice.Notice) error {
	if t.db.failEnqueue {
		return errors.New("outbox unavailable")
	}
	t.db.state.outbox = append(t.db.state.outbox, n)
	return nil
}

func (t *memTx) ClaimCapture(_ context.Context, orderID int64, now, expires time.Time) (bool, error) {
	if held, ok := t.db.state.captures[orderID]; ok && held.After(now) {
		return false, nil
	}
	t.db.state.captures[orderID] = expires
	return true, nil
}

func (t *memTx) ReleaseCapture(_ context.Context, orderID int64) error {
	delete(t.db.state.captures, orderID)
	return nil
}
