package httpserver

import (
	"net/http"
	"strings"
	"time"

	"wa-gateway/internal/repo"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	customers, err := s.deps.Repository.ListCustomers(r.Context(), repo.CustomerFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeRepoError(w, "list customers failed", err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := s.deps.Repository.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeRepoError(w, "get customer failed", err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	orders, err := s.deps.Repository.ListOrders(r.Context(), repo.OrderFilter{
		Status:     strings.TrimSpace(q.Get("status")),
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeRepoError(w, "list orders failed", err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Repository.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeRepoError(w, "get order failed", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := repo.PriceFilter{
		Product: strings.TrimSpace(r.URL.Query().Get("product")),
		Limit:   limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := parseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339 or YYYY-MM-DD")
			return
		}
		filter.Since = &since
	}
	points, err := s.deps.Repository.ListPriceHistory(r.Context(), filter)
	if err != nil {
		s.writeRepoError(w, "list price history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

type pricePointRequest struct {
	Product    string   `json:"product"`
	Price      *float64 `json:"price"`
	RecordedAt string   `json:"recorded_at"`
}

func (s *Server) handleInsertPricePoint(w http.ResponseWriter, r *http.Request) {
	var req pricePointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product := strings.TrimSpace(req.Product)
	if product == "" || req.Price == nil {
		writeError(w, http.StatusBadRequest, "product and price are required")
		return
	}
	if *req.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	point := repo.PricePoint{Product: product, Price: *req.Price}
	if req.RecordedAt != "" {
		at, err := parseTime(req.RecordedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recorded_at must be RFC3339 or YYYY-MM-DD")
			return
		}
		point.RecordedAt = at
	}

	inserted, err := s.deps.Repository.InsertPricePoint(r.Context(), point)
	if err != nil {
		s.writeRepoError(w, "insert price point failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, inserted)
}

func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, false
	}
	return limit, offset, true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
