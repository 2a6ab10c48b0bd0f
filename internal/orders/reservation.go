package orders

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kota727/bookstore/internal/apperr"
)

// ReservationRepo makes a multi-item stock decrement look atomic to
// concurrent callers. Stock is only ever mutated through the conditional
// updates below, never through a read-then-write pair in application code.
type ReservationRepo struct{ DB *pgxpool.Pool }

// Reserve decrements the stock of every requested book inside one
// transaction and returns the unit prices captured at decrement time.
// If any item has insufficient stock (or does not exist) the transaction
// rolls back and no decrement is left visible.
func (r *ReservationRepo) Reserve(ctx context.Context, items []ItemRequest) ([]ReservedItem, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, apperr.Storage("begin reserve", err)
	}
	defer tx.Rollback(ctx)

	// Locks are taken in book-id order so that two reservations listing the
	// same books in different orders cannot deadlock on each other's rows.
	items = sortByBookID(items)

	out := make([]ReservedItem, 0, len(items))
	for _, it := range items {
		// Single conditional decrement: the row never goes negative and
		// two overlapping reservations serialize on the row lock.
		var price int
		err := tx.QueryRow(ctx, `
			UPDATE books
			SET stock_quantity = stock_quantity - $2, updated_at = now()
			WHERE id = $1 AND stock_quantity >= $2
			RETURNING price_cents`,
			it.BookID, it.Qty).Scan(&price)
		if errors.Is(err, pgx.ErrNoRows) {
			// No row touched: missing book or short stock.
			var stock int
			err = tx.QueryRow(ctx, `SELECT stock_quantity FROM books WHERE id=$1`, it.BookID).Scan(&stock)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperr.BookNotFound(it.BookID)
			}
			if err != nil {
				return nil, apperr.Storage("reserve stock", err)
			}
			return nil, apperr.InsufficientStock(it.BookID)
		}
		if err != nil {
			return nil, apperr.Storage("reserve stock", err)
		}
		out = append(out, ReservedItem{BookID: it.BookID, Qty: it.Qty, PriceCents: price})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Storage("commit reserve", err)
	}
	return out, nil
}

// Release puts reserved stock back. There is no ceiling check, and a book
// that has since disappeared from the catalog is skipped rather than
// blocking the release.
func (r *ReservationRepo) Release(ctx context.Context, items []ItemRequest) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Storage("begin release", err)
	}
	defer tx.Rollback(ctx)

	if err := releaseTx(ctx, tx, items); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit release", err)
	}
	return nil
}

// sortByBookID returns a copy sorted by book id. The input is left untouched
// so callers still see the items in submission order.
func sortByBookID(items []ItemRequest) []ItemRequest {
	sorted := append([]ItemRequest(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].BookID[:], sorted[j].BookID[:]) < 0
	})
	return sorted
}

// releaseTx restocks items inside the caller's transaction. Shared with the
// cancellation path so restock and status flip commit together.
func releaseTx(ctx context.Context, tx pgx.Tx, items []ItemRequest) error {
	for _, it := range items {
		ct, err := tx.Exec(ctx, `
			UPDATE books
			SET stock_quantity = stock_quantity + $2, updated_at = now()
			WHERE id = $1`,
			it.BookID, it.Qty)
		if err != nil {
			return apperr.Storage("release stock", err)
		}
		if ct.RowsAffected() == 0 {
			log.Printf("release: book %s no longer exists, skipping restock of %d", it.BookID, it.Qty)
		}
	}
	return nil
}
