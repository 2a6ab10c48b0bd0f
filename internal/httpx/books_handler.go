package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kota727/bookstore/internal/apperr"
	"github.com/kota727/bookstore/internal/catalog"
)

type BooksHandler struct {
	Repo *catalog.Repo
}

type AdjustStockReq struct {
	Delta int `json:"delta"`
}

func (h *BooksHandler) Register(r *chi.Mux) {
	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)

		// catalog administration
		r.Group(func(r chi.Router) {
			r.Use(RequireIdentity, RequireAdmin)
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
			r.Post("/{id}/stock", h.adjustStock)
		})
	})
}

func (h *BooksHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.Repo.List(r.Context(), catalog.ListFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if books == nil {
		books = []catalog.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *BooksHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad book id"))
		return
	}
	b, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BooksHandler) create(w http.ResponseWriter, r *http.Request) {
	var b catalog.Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := validateBook(&b); err != nil {
		writeErr(w, err)
		return
	}
	out, err := h.Repo.Create(r.Context(), &b)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *BooksHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad book id"))
		return
	}
	var b catalog.Book
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	b.ID = id
	if err := validateBook(&b); err != nil {
		writeErr(w, err)
		return
	}
	out, err := h.Repo.Update(r.Context(), &b)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BooksHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad book id"))
		return
	}
	if err := h.Repo.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

func (h *BooksHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, apperr.InvalidInput("bad book id"))
		return
	}
	var req AdjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Delta == 0 {
		writeErr(w, apperr.InvalidInput("delta must be non-zero"))
		return
	}
	b, err := h.Repo.AdjustStock(r.Context(), id, req.Delta, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func validateBook(b *catalog.Book) error {
	if b.Title == "" || b.Author == "" {
		return apperr.InvalidInput("title and author are required")
	}
	if b.PriceCents < 0 {
		return apperr.InvalidInput("price must be non-negative")
	}
	if b.StockQuantity < 0 {
		return apperr.InvalidInput("stock must be non-negative")
	}
	return nil
}
