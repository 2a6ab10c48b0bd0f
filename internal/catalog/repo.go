package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kota727/bookstore/internal/apperr"
)

type Repo struct{ DB *pgxpool.Pool }

const bookColumns = `id, title, author, description, category, price_cents, stock_quantity, created_at, updated_at`

func scanBook(row pgx.Row) (*Book, error) {
	b := &Book{}
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.Category,
		&b.PriceCents, &b.StockQuantity, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*Book, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id=$1`, id)
	b, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BookNotFound(id)
	}
	if err != nil {
		return nil, apperr.Storage("get book", err)
	}
	return b, nil
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books`
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR author ILIKE $%d OR description ILIKE $%d)", n, n, n))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	switch f.Sort {
	case "price_asc":
		query += " ORDER BY price_cents ASC"
	case "price_desc":
		query += " ORDER BY price_cents DESC"
	case "newest":
		query += " ORDER BY created_at DESC"
	default:
		query += " ORDER BY title ASC"
	}

	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list books", err)
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, apperr.Storage("scan book", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list books", err)
	}
	return out, nil
}

func (r *Repo) Create(ctx context.Context, b *Book) (*Book, error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.DB.QueryRow(ctx, `
		INSERT INTO books (id, title, author, description, category, price_cents, stock_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+bookColumns,
		b.ID, b.Title, b.Author, b.Description, b.Category, b.PriceCents, b.StockQuantity)
	out, err := scanBook(row)
	if err != nil {
		return nil, apperr.Storage("create book", err)
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, b *Book) (*Book, error) {
	row := r.DB.QueryRow(ctx, `
		UPDATE books
		SET title=$2, author=$3, description=$4, category=$5, price_cents=$6, stock_quantity=$7, updated_at=now()
		WHERE id=$1
		RETURNING `+bookColumns,
		b.ID, b.Title, b.Author, b.Description, b.Category, b.PriceCents, b.StockQuantity)
	out, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.BookNotFound(b.ID)
	}
	if err != nil {
		return nil, apperr.Storage("update book", err)
	}
	return out, nil
}

func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM books WHERE id=$1`, id)
	if err != nil {
		return apperr.Storage("delete book", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.BookNotFound(id)
	}
	return nil
}

// AdjustStock changes a book's stock by delta in one conditional update.
// With guardNonNegative set, an adjustment that would take the stock below
// zero affects no rows and fails with InsufficientStock.
func (r *Repo) AdjustStock(ctx context.Context, id uuid.UUID, delta int, guardNonNegative bool) (*Book, error) {
	query := `UPDATE books SET stock_quantity = stock_quantity + $2, updated_at = now() WHERE id = $1`
	if guardNonNegative {
		query += ` AND stock_quantity + $2 >= 0`
	}
	row := r.DB.QueryRow(ctx, query+` RETURNING `+bookColumns, id, delta)
	b, err := scanBook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.InsufficientStock(id)
	}
	if err != nil {
		return nil, apperr.Storage("adjust stock", err)
	}
	return b, nil
}
