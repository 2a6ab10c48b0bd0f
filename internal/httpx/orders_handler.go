package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/kota727/bookstore/internal/apperr"
	kafkax "github.com/kota727/bookstore/internal/kafka"
	"github.com/kota727/bookstore/internal/orders"
	"github.com/kota727/bookstore/internal/projector"
	"github.com/kota727/bookstore/internal/redisx"
)

// Publisher is the slice of kafkax.Producer the handlers need.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Publishers holds one producer per order topic.
type Publishers struct {
	Created       Publisher
	StatusChanged Publisher
	Cancelled     Publisher
}

func (p *Publishers) created() Publisher {
	if p == nil {
		return nil
	}
	return p.Created
}

func (p *Publishers) statusChanged() Publisher {
	if p == nil {
		return nil
	}
	return p.StatusChanged
}

func (p *Publishers) cancelled() Publisher {
	if p == nil {
		return nil
	}
	return p.Cancelled
}

type OrdersHandler struct {
	Svc       *orders.Service
	Redis     *redis.Client
	Producers *Publishers
	Service   string
}

type CreateOrderReq struct {
	Items           []orders.ItemRequest `json:"items"`
	ShippingAddress orders.Address       `json:"shipping_address"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getOrderStatus)
		r.Patch("/{id}/status", h.updateStatus)
		r.Patch("/{id}/cancel", h.cancelOrder)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	o, err := h.Svc.CreateOrder(r.Context(), caller, req.Items, req.ShippingAddress)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(r, o)
	h.publish(r, h.Producers.created(), orders.EventOrderCreated, o.ID, orders.OrderCreatedPayload{
		OrderID:    o.ID.String(),
		UserID:     o.UserID,
		Items:      reservedItems(o.Items),
		TotalCents: o.TotalCents,
	})

	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	list, err := h.Svc.ListOrders(r.Context(), caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad order id"))
		return
	}
	o, err := h.Svc.GetOrder(r.Context(), caller, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves the lightweight status read. The cache written by
// the projector answers most calls; a miss falls back to the ledger and
// refills the cache.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad order id"))
		return
	}

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, id)
		if s, err := h.Redis.Get(r.Context(), key).Result(); err == nil && s != "" {
			var entry projector.StatusCacheEntry
			if json.Unmarshal([]byte(s), &entry) == nil {
				if !caller.IsAdmin && entry.UserID != caller.UserID {
					writeErr(w, apperr.Forbidden("not your order"))
					return
				}
				writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": entry.Status})
				return
			}
		}
	}

	o, err := h.Svc.GetOrder(r.Context(), caller, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheStatus(r, o)
	writeJSON(w, http.StatusOK, map[string]string{"id": o.ID.String(), "status": string(o.Status)})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad order id"))
		return
	}

	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}

	// read the current status first so the event can carry the transition
	prev, err := h.Svc.GetOrder(r.Context(), caller, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	o, err := h.Svc.UpdateStatus(r.Context(), caller, id, status)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(r, o)
	h.publish(r, h.Producers.statusChanged(), orders.EventOrderStatusChanged, o.ID, orders.OrderStatusChangedPayload{
		OrderID:   o.ID.String(),
		UserID:    o.UserID,
		OldStatus: prev.Status,
		NewStatus: o.Status,
	})

	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad order id"))
		return
	}

	o, err := h.Svc.CancelOrder(r.Context(), caller, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheStatus(r, o)
	h.publish(r, h.Producers.cancelled(), orders.EventOrderCancelled, o.ID, orders.OrderCancelledPayload{
		OrderID: o.ID.String(),
		UserID:  o.UserID,
		Items:   itemRequests(o.Items),
	})

	writeJSON(w, http.StatusOK, o)
}

// cacheStatus keeps the read fast path warm straight from the write path;
// the projector refreshes the same key from the event stream.
func (h *OrdersHandler) cacheStatus(r *http.Request, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	entry := projector.StatusCacheEntry{Status: string(o.Status), UserID: o.UserID}
	_ = h.Redis.Set(r.Context(), key, kafkax.MustMarshal(entry), redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) publish(r *http.Request, p Publisher, eventType string, orderID uuid.UUID, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID.String(),
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID.String()), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func reservedItems(items []orders.OrderItem) []orders.ReservedItem {
	out := make([]orders.ReservedItem, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ReservedItem{BookID: it.BookID, Qty: it.Qty, PriceCents: it.PriceCents})
	}
	return out
}

func itemRequests(items []orders.OrderItem) []orders.ItemRequest {
	out := make([]orders.ItemRequest, 0, len(items))
	for _, it := range items {
		out = append(out, orders.ItemRequest{BookID: it.BookID, Qty: it.Qty})
	}
	return out
}
