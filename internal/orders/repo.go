package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kota727/bookstore/internal/apperr"
)

// Repo is the order ledger: append-mostly order rows plus their immutable
// line items. Orders are never deleted; cancellation is a status.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, status, total_cents,
	ship_country, ship_state, ship_district, ship_street, ship_postal_code,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents,
		&o.ShippingAddress.Country, &o.ShippingAddress.State, &o.ShippingAddress.District,
		&o.ShippingAddress.Street, &o.ShippingAddress.PostalCode,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Create persists the order and its items in one transaction with status
// pending. The order's items and total are taken as given; the caller has
// already captured the unit prices through the reservation.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Storage("begin create order", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, status, total_cents,
			ship_country, ship_state, ship_district, ship_street, ship_postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, string(o.Status), o.TotalCents,
		o.ShippingAddress.Country, o.ShippingAddress.State, o.ShippingAddress.District,
		o.ShippingAddress.Street, o.ShippingAddress.PostalCode).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return apperr.Storage("insert order", err)
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, book_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, it.BookID, it.Qty, it.PriceCents); err != nil {
			return apperr.Storage("insert order item", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit create order", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.OrderNotFound(id)
	}
	if err != nil {
		return nil, apperr.Storage("get order", err)
	}

	items, err := r.itemsFor(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return o, nil
}

func (r *Repo) ListAll(ctx context.Context) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list orders", err)
	}
	defer rows.Close()

	var out []Order
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Storage("scan order", err)
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list orders", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repo) itemsFor(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT order_id, book_id, qty, price_cents
		FROM order_items
		WHERE order_id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, apperr.Storage("list order items", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]OrderItem, len(orderIDs))
	for rows.Next() {
		var oid uuid.UUID
		var it OrderItem
		if err := rows.Scan(&oid, &it.BookID, &it.Qty, &it.PriceCents); err != nil {
			return nil, apperr.Storage("scan order item", err)
		}
		out[oid] = append(out[oid], it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list order items", err)
	}
	return out, nil
}

// UpdateStatus sets the status with no inventory side effects. Status
// validation and admin checks happen in the service layer.
func (r *Repo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Order, error) {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
	if err != nil {
		return nil, apperr.Storage("update order status", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, apperr.OrderNotFound(id)
	}
	return r.Get(ctx, id)
}

// Cancel flips a pending order to cancelled and restores the stock of every
// item in the same transaction, so the restock and the status flip commit
// together or not at all. The row lock serializes concurrent cancels; a
// second cancel sees the cancelled status and fails without restocking
// again.
func (r *Repo) Cancel(ctx context.Context, id uuid.UUID) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, apperr.Storage("begin cancel", err)
	}
	defer tx.Rollback(ctx)

	var status Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.OrderNotFound(id)
	}
	if err != nil {
		return nil, apperr.Storage("lock order", err)
	}
	if !status.Cancellable() {
		return nil, apperr.InvalidState("cannot cancel order in status %q", status)
	}

	rows, err := tx.Query(ctx, `SELECT book_id, qty FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return nil, apperr.Storage("load order items", err)
	}
	var items []ItemRequest
	for rows.Next() {
		var it ItemRequest
		if err := rows.Scan(&it.BookID, &it.Qty); err != nil {
			rows.Close()
			return nil, apperr.Storage("scan order item", err)
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("load order items", err)
	}

	if err := releaseTx(ctx, tx, items); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, id, string(StatusCancelled)); err != nil {
		return nil, apperr.Storage("cancel order", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage("commit cancel", err)
	}
	return r.Get(ctx, id)
}
