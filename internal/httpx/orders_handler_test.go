package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kota727/bookstore/internal/apperr"
	"github.com/kota727/bookstore/internal/httpx"
	"github.com/kota727/bookstore/internal/orders"
)

// fakeStore implements orders.Reservation and orders.Ledger in memory so
// the handlers can be exercised without Postgres, Redis or Kafka.
type fakeStore struct {
	mu     sync.Mutex
	stock  map[uuid.UUID]int
	price  map[uuid.UUID]int
	orders map[uuid.UUID]*orders.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stock:  make(map[uuid.UUID]int),
		price:  make(map[uuid.UUID]int),
		orders: make(map[uuid.UUID]*orders.Order),
	}
}

func (f *fakeStore) Reserve(_ context.Context, items []orders.ItemRequest) ([]orders.ReservedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		if _, ok := f.price[it.BookID]; !ok {
			return nil, apperr.BookNotFound(it.BookID)
		}
		if f.stock[it.BookID] < it.Qty {
			return nil, apperr.InsufficientStock(it.BookID)
		}
	}
	out := make([]orders.ReservedItem, 0, len(items))
	for _, it := range items {
		f.stock[it.BookID] -= it.Qty
		out = append(out, orders.ReservedItem{BookID: it.BookID, Qty: it.Qty, PriceCents: f.price[it.BookID]})
	}
	return out, nil
}

func (f *fakeStore) Release(_ context.Context, items []orders.ItemRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		f.stock[it.BookID] += it.Qty
	}
	return nil
}

func (f *fakeStore) Create(_ context.Context, o *orders.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) ListAll(_ context.Context) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]orders.Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeStore) ListByUser(_ context.Context, userID string) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []orders.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status orders.Status) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

func (f *fakeStore) Cancel(_ context.Context, id uuid.UUID) (*orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	if !o.Status.Cancellable() {
		return nil, apperr.InvalidState("cannot cancel order in status %q", o.Status)
	}
	for _, it := range o.Items {
		f.stock[it.BookID] += it.Qty
	}
	o.Status = orders.StatusCancelled
	cp := *o
	return &cp, nil
}

// recordingPublisher captures published messages instead of writing to Kafka.
type recordingPublisher struct {
	mu       sync.Mutex
	keys     [][]byte
	messages [][]byte
}

func (p *recordingPublisher) Publish(key, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, value)
}

func (p *recordingPublisher) last(t *testing.T) orders.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.messages)
	var ev orders.Envelope
	require.NoError(t, json.Unmarshal(p.messages[len(p.messages)-1], &ev))
	return ev
}

func newTestRouter(fs *fakeStore) *chi.Mux {
	r, _ := newTestRouterWithPublishers(fs)
	return r
}

func newTestRouterWithPublishers(fs *fakeStore) (*chi.Mux, *httpx.Publishers) {
	r := httpx.NewRouter()
	pubs := &httpx.Publishers{
		Created:       &recordingPublisher{},
		StatusChanged: &recordingPublisher{},
		Cancelled:     &recordingPublisher{},
	}
	h := &httpx.OrdersHandler{
		Svc:       orders.NewService(fs, fs),
		Producers: pubs,
		Service:   "bookstore-test",
	}
	h.Register(r)
	(&httpx.BooksHandler{}).Register(r)
	return r, pubs
}

func doJSON(t *testing.T, r http.Handler, method, path, userID string, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(httpx.HeaderUserID, userID)
	}
	if admin {
		req.Header.Set(httpx.HeaderAdmin, "true")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var testAddr = orders.Address{
	Country:    "IN",
	State:      "Kerala",
	District:   "Ernakulam",
	Street:     "12 Marine Drive",
	PostalCode: "682031",
}

func createOrder(t *testing.T, r http.Handler, userID string, items []orders.ItemRequest) orders.Order {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/orders", userID, false, httpx.CreateOrderReq{
		Items:           items,
		ShippingAddress: testAddr,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &o))
	return o
}

func TestOrdersRequireIdentity(t *testing.T) {
	r := newTestRouter(newFakeStore())

	w := doJSON(t, r, http.MethodGet, "/orders", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderEndpoint(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r := newTestRouter(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 3}})
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 300, o.TotalCents)

	// second order overdraws the remaining stock
	w := doJSON(t, r, http.MethodPost, "/orders", "alice", false, httpx.CreateOrderReq{
		Items:           []orders.ItemRequest{{BookID: book, Qty: 3}},
		ShippingAddress: testAddr,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Kind apperr.Kind `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, apperr.KindInsufficientStock, body.Kind)
}

func TestGetOrderEndpoint(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r := newTestRouter(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 1}})

	w := doJSON(t, r, http.MethodGet, "/orders/"+o.ID.String(), "alice", false, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/orders/"+o.ID.String(), "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodGet, "/orders/"+o.ID.String(), "bob", true, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/orders/"+uuid.NewString(), "alice", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/orders/not-a-uuid", "alice", false, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrderStatusFallsBackToLedger(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r := newTestRouter(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 1}})

	w := doJSON(t, r, http.MethodGet, "/orders/"+o.ID.String()+"/status", "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pending", body["status"])
}

func TestUpdateStatusEndpoint(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r := newTestRouter(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 1}})
	path := "/orders/" + o.ID.String() + "/status"

	w := doJSON(t, r, http.MethodPatch, path, "alice", false, httpx.UpdateStatusReq{Status: "shipped"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPatch, path, "root", true, httpx.UpdateStatusReq{Status: "shipped"})
	require.Equal(t, http.StatusOK, w.Code)

	var updated orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, orders.StatusShipped, updated.Status)

	w = doJSON(t, r, http.MethodPatch, path, "root", true, httpx.UpdateStatusReq{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPatch, path, "root", true, httpx.UpdateStatusReq{Status: "cancelled"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateStatusPublishesTransition(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r, pubs := newTestRouterWithPublishers(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 1}})

	w := doJSON(t, r, http.MethodPatch, "/orders/"+o.ID.String()+"/status", "root", true,
		httpx.UpdateStatusReq{Status: "shipped"})
	require.Equal(t, http.StatusOK, w.Code)

	rp := pubs.StatusChanged.(*recordingPublisher)
	ev := rp.last(t)
	assert.Equal(t, orders.EventOrderStatusChanged, ev.EventType)
	assert.Equal(t, o.ID.String(), ev.CorrelationID)
	assert.Equal(t, orders.PartitionKey(o.ID.String()), rp.keys[len(rp.keys)-1])

	var payload orders.OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, o.ID.String(), payload.OrderID)
	assert.Equal(t, "alice", payload.UserID)
	assert.Equal(t, orders.StatusPending, payload.OldStatus)
	assert.Equal(t, orders.StatusShipped, payload.NewStatus)
}

func TestCancelOrderEndpoint(t *testing.T) {
	fs := newFakeStore()
	book := uuid.New()
	fs.stock[book] = 5
	fs.price[book] = 100
	r := newTestRouter(fs)

	o := createOrder(t, r, "alice", []orders.ItemRequest{{BookID: book, Qty: 2}})
	require.Equal(t, 3, fs.stock[book])

	path := "/orders/" + o.ID.String() + "/cancel"

	w := doJSON(t, r, http.MethodPatch, path, "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cancelled orders.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, 5, fs.stock[book])

	// second cancel must not restock again
	w = doJSON(t, r, http.MethodPatch, path, "alice", false, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 5, fs.stock[book])
}

func TestBooksAdminGuard(t *testing.T) {
	r := newTestRouter(newFakeStore())

	w := doJSON(t, r, http.MethodPost, "/books", "alice", false, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/books", "", false, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
