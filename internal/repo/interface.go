package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrSessionExists is returned when creating a session id that is already registered.
	ErrSessionExists = errors.New("session already exists")
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// WhatsApp sessions
	ListSessions(ctx context.Context) ([]Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	SessionExists(ctx context.Context, id string) (bool, error)
	CreateSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	UpdateSessionQR(ctx context.Context, id, qr string) error
	MarkSessionConnected(ctx context.Context, id string, at time.Time) error
	SetSessionDevice(ctx context.Context, id, deviceJID string) error
	ResetSession(ctx context.Context, id string) error

	// Customers
	ListCustomers(ctx context.Context, filter CustomerFilter) ([]Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	GetCustomersByIDs(ctx context.Context, ids []string) ([]Customer, error)

	// Orders
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)

	// Price history
	ListPriceHistory(ctx context.Context, filter PriceFilter) ([]PricePoint, error)
	InsertPricePoint(ctx context.Context, point PricePoint) (*PricePoint, error)
}
