package repo

import (
	"context"
	"fmt"
	"strings"
)

// ListCustomers returns customers ordered by name.
func (r *PostgresRepository) ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	q := `SELECT id::text, name, phone, created_at FROM customers`
	args := []any{}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		q += ` WHERE name ILIKE $1 OR phone ILIKE $1`
	}
	args = append(args, normaliseLimit(filter.Limit), max(filter.Offset, 0))
	q += fmt.Sprintf(` ORDER BY name ASC LIMIT $%d OFFSET $%d;`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return customers, nil
}

// GetCustomer loads a customer by id.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	const q = `SELECT id::text, name, phone, created_at FROM customers WHERE id::text = $1 LIMIT 1;`
	var c Customer
	if err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, notFound(err))
	}
	return &c, nil
}

// GetCustomersByIDs loads the customers whose ids are listed; unknown ids are skipped.
func (r *PostgresRepository) GetCustomersByIDs(ctx context.Context, ids []string) ([]Customer, error) {
	if len(ids) == 0 {
		return []Customer{}, nil
	}
	const q = `SELECT id::text, name, phone, created_at FROM customers WHERE id::text = ANY($1) ORDER BY name ASC;`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("get customers by ids: %w", err)
	}
	defer rows.Close()

	customers := []Customer{}
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}
	return customers, nil
}

// ListOrders returns orders newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id::text = $%d", len(args)))
	}
	q := `SELECT id::text, customer_id::text, status, total::float8, notes, created_at FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normaliseLimit(filter.Limit), max(filter.Offset, 0))
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d;`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.Notes, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// GetOrder loads an order by id.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	const q = `SELECT id::text, customer_id::text, status, total::float8, notes, created_at FROM orders WHERE id::text = $1 LIMIT 1;`
	var o Order
	if err := r.pool.QueryRow(ctx, q, id).Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.Notes, &o.CreatedAt); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, notFound(err))
	}
	return &o, nil
}

// ListPriceHistory returns price points newest first.
func (r *PostgresRepository) ListPriceHistory(ctx context.Context, filter PriceFilter) ([]PricePoint, error) {
	var (
		where []string
		args  []any
	)
	if filter.Product != "" {
		args = append(args, filter.Product)
		where = append(where, fmt.Sprintf("product = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		where = append(where, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	q := `SELECT id::text, product, price::float8, recorded_at FROM price_history`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normaliseLimit(filter.Limit))
	q += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d;`, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	points := []PricePoint{}
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.ID, &p.Product, &p.Price, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return points, nil
}

// InsertPricePoint appends a price observation. A zero RecordedAt means now.
func (r *PostgresRepository) InsertPricePoint(ctx context.Context, point PricePoint) (*PricePoint, error) {
	const q = `
INSERT INTO price_history (product, price, recorded_at)
VALUES ($1, $2, COALESCE($3::timestamptz, NOW()))
RETURNING id::text, product, price::float8, recorded_at;`
	var recordedAt any
	if !point.RecordedAt.IsZero() {
		recordedAt = point.RecordedAt
	}
	var inserted PricePoint
	if err := r.pool.QueryRow(ctx, q, point.Product, point.Price, recordedAt).Scan(&inserted.ID, &inserted.Product, &inserted.Price, &inserted.RecordedAt); err != nil {
		return nil, fmt.Errorf("insert price point: %w", err)
	}
	return &inserted, nil
}
