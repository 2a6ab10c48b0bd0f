package orders

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/kota727/bookstore/internal/apperr"
)

// Reservation is the atomic stock check-and-decrement used while building an
// order, and its reverse.
type Reservation interface {
	Reserve(ctx context.Context, items []ItemRequest) ([]ReservedItem, error)
	Release(ctx context.Context, items []ItemRequest) error
}

// Ledger persists orders and drives the status state machine.
type Ledger interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Order, error)
}

// Service orchestrates reservation and ledger and enforces the
// authorization policy. Validation and authorization run before any
// mutation, so a rejected call has no side effects.
type Service struct {
	res    Reservation
	ledger Ledger
}

func NewService(res Reservation, ledger Ledger) *Service {
	return &Service{res: res, ledger: ledger}
}

// CreateOrder reserves stock for every item, then persists the order with
// the unit prices captured by the reservation. A reservation failure is
// returned untouched; a persistence failure releases the reservation before
// returning, so no decrement outlives a failed call.
func (s *Service) CreateOrder(ctx context.Context, caller Identity, items []ItemRequest, addr Address) (*Order, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if err := validateAddress(addr); err != nil {
		return nil, err
	}

	reserved, err := s.res.Reserve(ctx, items)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:              uuid.New(),
		UserID:          caller.UserID,
		Status:          StatusPending,
		ShippingAddress: addr,
		Items:           make([]OrderItem, 0, len(reserved)),
	}
	for _, ri := range reserved {
		o.Items = append(o.Items, OrderItem{BookID: ri.BookID, Qty: ri.Qty, PriceCents: ri.PriceCents})
		o.TotalCents += ri.PriceCents * ri.Qty
	}

	if err := s.ledger.Create(ctx, o); err != nil {
		// compensate: the decrement must not survive a failed create
		if rerr := s.res.Release(ctx, items); rerr != nil {
			log.Printf("create order %s: release after failed persist: %v", o.ID, rerr)
		}
		return nil, err
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, caller Identity, id uuid.UUID) (*Order, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && o.UserID != caller.UserID {
		return nil, apperr.Forbidden("not your order")
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, caller Identity) ([]Order, error) {
	if caller.IsAdmin {
		return s.ledger.ListAll(ctx)
	}
	return s.ledger.ListByUser(ctx, caller.UserID)
}

// UpdateStatus is admin-only. Any enumerated status is accepted with no
// forward-only sequencing, except cancelled, which must go through
// CancelOrder so the stock comes back.
func (s *Service) UpdateStatus(ctx context.Context, caller Identity, id uuid.UUID, status Status) (*Order, error) {
	if !caller.IsAdmin {
		return nil, apperr.Forbidden("admin only")
	}
	if !status.AdminAssignable() {
		if status == StatusCancelled {
			return nil, apperr.InvalidInput("use cancel to cancel an order")
		}
		return nil, apperr.InvalidInput("unknown status: %q", status)
	}
	return s.ledger.UpdateStatus(ctx, id, status)
}

// CancelOrder cancels a pending order owned by the caller (or any pending
// order for an admin), restoring the reserved stock.
func (s *Service) CancelOrder(ctx context.Context, caller Identity, id uuid.UUID) (*Order, error) {
	o, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && o.UserID != caller.UserID {
		return nil, apperr.Forbidden("not your order")
	}
	return s.ledger.Cancel(ctx, id)
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return apperr.InvalidInput("order has no items")
	}
	seen := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		if it.BookID == uuid.Nil {
			return apperr.InvalidInput("missing book id")
		}
		if it.Qty <= 0 {
			return apperr.InvalidInput("quantity must be positive for book %s", it.BookID)
		}
		if seen[it.BookID] {
			return apperr.InvalidInput("duplicate book in order: %s", it.BookID)
		}
		seen[it.BookID] = true
	}
	return nil
}

func validateAddress(a Address) error {
	fields := map[string]string{
		"country":     a.Country,
		"state":       a.State,
		"district":    a.District,
		"street":      a.Street,
		"postal_code": a.PostalCode,
	}
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return apperr.InvalidInput("missing shipping address field: %s", name)
		}
	}
	return nil
}
