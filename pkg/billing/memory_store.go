package billing

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store and InvoiceNumberer in memory, for tests and
// local development. Writes made inside a transaction are staged and applied
// atomically on commit; a failed transaction discards them.
type MemoryStore struct {
	mu       sync.RWMutex
	plans    map[uuid.UUID]Plan
	subs     map[uuid.UUID]Subscription
	invoices map[uuid.UUID]Invoice
	payments map[uuid.UUID][]Payment // by invoice

	locks *keyedLocks
	seq   atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[uuid.UUID]Plan),
		subs:     make(map[uuid.UUID]Subscription),
		invoices: make(map[uuid.UUID]Invoice),
		payments: make(map[uuid.UUID][]Payment),
		locks:    newKeyedLocks(),
	}
}

// NextInvoiceSeq implements InvoiceNumberer.
func (s *MemoryStore) NextInvoiceSeq(context.Context) (int64, error) {
	return s.seq.Add(1), nil
}

// MaxInvoiceSeq returns the highest sequence value handed out or used by a
// committed invoice.
func (s *MemoryStore) MaxInvoiceSeq(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	highest := s.seq.Load()
	for _, inv := range s.invoices {
		if seq, err := ParseInvoiceSeq(inv.Number); err == nil && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

// InTx implements Store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    s,
		held:     make(map[string]func()),
		plans:    make(map[uuid.UUID]Plan),
		subs:     make(map[uuid.UUID]Subscription),
		invoices: make(map[uuid.UUID]Invoice),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same backstop as the partial unique index in PostgreSQL.
	for _, sub := range tx.subs {
		if !sub.IsActive() {
			continue
		}
		for id, other := range s.subs {
			if id == sub.ID || !other.IsActive() || other.CustomerID != sub.CustomerID {
				continue
			}
			if staged, ok := tx.subs[id]; ok && !staged.IsActive() {
				continue
			}
			return ErrActiveSubscriptionExists
		}
	}

	maps.Copy(s.plans, tx.plans)
	maps.Copy(s.subs, tx.subs)
	maps.Copy(s.invoices, tx.invoices)
	for _, p := range tx.payments {
		s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], p)
	}
	return nil
}

type memTx struct {
	store *MemoryStore
	held  map[string]func()

	plans    map[uuid.UUID]Plan
	subs     map[uuid.UUID]Subscription
	invoices map[uuid.UUID]Invoice
	payments []Payment
}

func (tx *memTx) release() {
	for _, unlock := range tx.held {
		unlock()
	}
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	unlock, err := tx.store.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	tx.held[key] = unlock
	return nil
}

func (tx *memTx) LockSubscription(ctx context.Context, id uuid.UUID) error {
	return tx.lock(ctx, "subscription:"+id.String())
}

func (tx *memTx) LockCustomer(ctx context.Context, customerID uuid.UUID) error {
	return tx.lock(ctx, "customer:"+customerID.String())
}

// Read helpers overlay staged writes on committed state.

func (tx *memTx) allPlans() map[uuid.UUID]Plan {
	tx.store.mu.RLock()
	out := maps.Clone(tx.store.plans)
	tx.store.mu.RUnlock()
	maps.Copy(out, tx.plans)
	return out
}

func (tx *memTx) allSubs() map[uuid.UUID]Subscription {
	tx.store.mu.RLock()
	out := maps.Clone(tx.store.subs)
	tx.store.mu.RUnlock()
	maps.Copy(out, tx.subs)
	return out
}

func (tx *memTx) allInvoices() map[uuid.UUID]Invoice {
	tx.store.mu.RLock()
	out := maps.Clone(tx.store.invoices)
	tx.store.mu.RUnlock()
	maps.Copy(out, tx.invoices)
	return out
}

func (tx *memTx) ListPlans(context.Context) ([]Plan, error) {
	plans := slices.Collect(maps.Values(tx.allPlans()))
	slices.SortFunc(plans, func(a, b Plan) int { return cmp.Compare(a.Tier.rank(), b.Tier.rank()) })
	return plans, nil
}

func (tx *memTx) InsertPlan(_ context.Context, plan Plan) error {
	for _, p := range tx.allPlans() {
		if p.Tier == plan.Tier {
			return ErrPlanAlreadyExists
		}
	}
	tx.plans[plan.ID] = plan
	return nil
}

func (tx *memTx) SetPlanActive(_ context.Context, tier Tier, active bool) error {
	for _, p := range tx.allPlans() {
		if p.Tier == tier {
			p.Active = active
			tx.plans[p.ID] = p
			return nil
		}
	}
	return ErrPlanNotFound
}

func (tx *memTx) GetSubscription(_ context.Context, id uuid.UUID) (Subscription, error) {
	if sub, ok := tx.subs[id]; ok {
		return sub, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	sub, ok := tx.store.subs[id]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (tx *memTx) ActiveSubscription(_ context.Context, customerID uuid.UUID) (Subscription, error) {
	for _, sub := range tx.allSubs() {
		if sub.CustomerID == customerID && sub.IsActive() {
			return sub, nil
		}
	}
	return Subscription{}, ErrSubscriptionNotFound
}

func (tx *memTx) ListSubscriptions(_ context.Context, customerID uuid.UUID) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range tx.allSubs() {
		if sub.CustomerID == customerID {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.StartedAt.Compare(b.StartedAt) })
	return out, nil
}

func (tx *memTx) ListDueSubscriptions(_ context.Context, asOf time.Time) ([]Subscription, error) {
	var out []Subscription
	for _, sub := range tx.allSubs() {
		if sub.IsActive() && sub.IsDueAt(asOf) {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int { return a.NextPaymentDue.Compare(b.NextPaymentDue) })
	return out, nil
}

func (tx *memTx) InsertSubscription(ctx context.Context, sub Subscription) error {
	if _, err := tx.GetSubscription(ctx, sub.ID); err == nil {
		return fmt.Errorf("%w: subscription %s already exists", ErrConflict, sub.ID)
	}
	if sub.IsActive() {
		if _, err := tx.ActiveSubscription(ctx, sub.CustomerID); err == nil {
			return ErrActiveSubscriptionExists
		}
	}
	tx.subs[sub.ID] = sub
	return nil
}

func (tx *memTx) UpdateSubscription(ctx context.Context, sub Subscription) error {
	if _, err := tx.GetSubscription(ctx, sub.ID); err != nil {
		return err
	}
	if sub.IsActive() {
		if other, err := tx.ActiveSubscription(ctx, sub.CustomerID); err == nil && other.ID != sub.ID {
			return ErrActiveSubscriptionExists
		}
	}
	tx.subs[sub.ID] = sub
	return nil
}

func (tx *memTx) InsertInvoice(_ context.Context, inv Invoice) error {
	for _, existing := range tx.allInvoices() {
		if existing.ID == inv.ID || existing.Number == inv.Number {
			return fmt.Errorf("%w: invoice %s already exists", ErrConflict, inv.Number)
		}
	}
	tx.invoices[inv.ID] = inv
	return nil
}

func (tx *memTx) GetInvoice(_ context.Context, id uuid.UUID) (Invoice, error) {
	if inv, ok := tx.invoices[id]; ok {
		return inv, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	inv, ok := tx.store.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (tx *memTx) GetInvoiceByNumber(_ context.Context, number string) (Invoice, error) {
	for _, inv := range tx.allInvoices() {
		if strings.EqualFold(inv.Number, number) {
			return inv, nil
		}
	}
	return Invoice{}, ErrInvoiceNotFound
}

func (tx *memTx) UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error {
	inv, err := tx.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	inv.Status = status
	inv.PaidAt = paidAt
	tx.invoices[id] = inv
	return nil
}

func (tx *memTx) ListInvoicesBySubscription(_ context.Context, subscriptionID uuid.UUID, status InvoiceStatus) ([]Invoice, error) {
	return tx.filterInvoices(func(inv Invoice) bool {
		return inv.SubscriptionID == subscriptionID && inv.Status == status
	}), nil
}

func (tx *memTx) ListInvoicesByCustomer(_ context.Context, customerID uuid.UUID) ([]Invoice, error) {
	return tx.filterInvoices(func(inv Invoice) bool {
		return inv.CustomerID == customerID
	}), nil
}

func (tx *memTx) ListPastDueInvoices(_ context.Context, asOf time.Time) ([]Invoice, error) {
	return tx.filterInvoices(func(inv Invoice) bool {
		return inv.IsPastDue(asOf)
	}), nil
}

func (tx *memTx) filterInvoices(keep func(Invoice) bool) []Invoice {
	var out []Invoice
	for _, inv := range tx.allInvoices() {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b Invoice) int { return strings.Compare(a.Number, b.Number) })
	return out
}

func (tx *memTx) InsertPayment(_ context.Context, p Payment) error {
	tx.payments = append(tx.payments, p)
	return nil
}

func (tx *memTx) ListPayments(_ context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	tx.store.mu.RLock()
	out := slices.Clone(tx.store.payments[invoiceID])
	tx.store.mu.RUnlock()
	for _, p := range tx.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

// keyedLocks hands out one mutex per key; entries are dropped when unused.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyLock)}
}

func (k *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.drop(key, l)
		}, nil
	case <-ctx.Done():
		k.drop(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) drop(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// MemoryCustomers is an in-memory CustomerDirectory.
type MemoryCustomers struct {
	mu        sync.RWMutex
	countries map[uuid.UUID]string
}

// NewMemoryCustomers creates an empty directory.
func NewMemoryCustomers() *MemoryCustomers {
	return &MemoryCustomers{countries: make(map[uuid.UUID]string)}
}

// Add registers a customer with its country code.
func (m *MemoryCustomers) Add(customerID uuid.UUID, countryCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countries[customerID] = countryCode
}

// CountryCode implements CustomerDirectory.
func (m *MemoryCustomers) CountryCode(_ context.Context, customerID uuid.UUID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.countries[customerID]
	if !ok {
		return "", ErrCustomerNotFound
	}
	return code, nil
}
