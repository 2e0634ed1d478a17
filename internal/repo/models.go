package repo

import "time"

// SessionStatus is the mirrored pairing state of a WhatsApp session.
type SessionStatus string

const (
	StatusNew       SessionStatus = "new"
	StatusPending   SessionStatus = "pending"
	StatusConnected SessionStatus = "connected"
)

// Session represents a row in whatsapp_sessions.
type Session struct {
	SessionID       string        `json:"session_id"`
	Status          SessionStatus `json:"status"`
	LastQR          *string       `json:"last_qr"`
	LastConnectedAt *time.Time    `json:"last_connected_at"`
	DeviceJID       *string       `json:"device_jid,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Customer represents a row in customers.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// CustomerFilter narrows ListCustomers. Search matches name or phone.
type CustomerFilter struct {
	Search string
	Limit  int
	Offset int
}

// Order represents a row in orders.
type Order struct {
	ID         string    `json:"id"`
	CustomerID *string   `json:"customer_id"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	Notes      *string   `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	Status     string
	CustomerID string
	Limit      int
	Offset     int
}

// PricePoint represents a row in price_history.
type PricePoint struct {
	ID         string    `json:"id"`
	Product    string    `json:"product"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PriceFilter narrows ListPriceHistory.
type PriceFilter struct {
	Product string
	Since   *time.Time
	Limit   int
}

const (
	defaultLimit = 50
	// MaxListLimit caps every list query.
	MaxListLimit = 500
)

func normaliseLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
