package orders_test

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/kota727/bookstore/internal/apperr"
	"github.com/kota727/bookstore/internal/orders"
)

// memStore backs the service tests with an in-memory catalog and ledger.
// It implements both orders.Reservation and orders.Ledger so the tests can
// observe stock and ledger state through one handle. Reserve is
// all-or-nothing under a single lock, mirroring the transactional
// guarantees of the Postgres repos.
type memStore struct {
	mu         sync.Mutex
	stock      map[uuid.UUID]int
	price      map[uuid.UUID]int
	orders     map[uuid.UUID]*orders.Order
	createdSeq []uuid.UUID
	failCreate bool
	releases   int
}

func newMemStore() *memStore {
	return &memStore{
		stock:  make(map[uuid.UUID]int),
		price:  make(map[uuid.UUID]int),
		orders: make(map[uuid.UUID]*orders.Order),
	}
}

func (m *memStore) addBook(id uuid.UUID, stock, priceCents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[id] = stock
	m.price[id] = priceCents
}

func (m *memStore) stockOf(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[id]
}

func (m *memStore) removeBook(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stock, id)
	delete(m.price, id)
}

func (m *memStore) setPrice(id uuid.UUID, priceCents int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price[id] = priceCents
}

func (m *memStore) Reserve(_ context.Context, items []orders.ItemRequest) ([]orders.ReservedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// check everything before touching anything
	for _, it := range items {
		if _, ok := m.price[it.BookID]; !ok {
			return nil, apperr.BookNotFound(it.BookID)
		}
		if m.stock[it.BookID] < it.Qty {
			return nil, apperr.InsufficientStock(it.BookID)
		}
	}

	out := make([]orders.ReservedItem, 0, len(items))
	for _, it := range items {
		m.stock[it.BookID] -= it.Qty
		out = append(out, orders.ReservedItem{BookID: it.BookID, Qty: it.Qty, PriceCents: m.price[it.BookID]})
	}
	return out, nil
}

func (m *memStore) Release(_ context.Context, items []orders.ItemRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	for _, it := range items {
		if _, ok := m.price[it.BookID]; ok {
			m.stock[it.BookID] += it.Qty
		}
	}
	return nil
}

func (m *memStore) Create(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return apperr.Storage("insert order", errors.New("connection reset"))
	}
	m.orders[o.ID] = cloneOrder(o)
	m.createdSeq = append(m.createdSeq, o.ID)
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	return cloneOrder(o), nil
}

func (m *memStore) ListAll(_ context.Context) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0, len(m.createdSeq))
	for i := len(m.createdSeq) - 1; i >= 0; i-- { // newest first
		out = append(out, *cloneOrder(m.orders[m.createdSeq[i]]))
	}
	return out, nil
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for i := len(m.createdSeq) - 1; i >= 0; i-- {
		if o := m.orders[m.createdSeq[i]]; o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status orders.Status) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	o.Status = status
	return cloneOrder(o), nil
}

func (m *memStore) Cancel(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	if !o.Status.Cancellable() {
		return nil, apperr.InvalidState("cannot cancel order in status %q", o.Status)
	}
	for _, it := range o.Items {
		if _, ok := m.price[it.BookID]; ok {
			m.stock[it.BookID] += it.Qty
		}
	}
	o.Status = orders.StatusCancelled
	return cloneOrder(o), nil
}

func cloneOrder(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	return &c
}
