package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wa-gateway/internal/cache"
	"wa-gateway/internal/metrics"
	"wa-gateway/internal/repo"
	"wa-gateway/internal/wa"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/time/rate"
)

// ErrInvalidRequest marks caller mistakes in a broadcast request.
var ErrInvalidRequest = errors.New("invalid broadcast request")

// Sender delivers one text through a session.
type Sender interface {
	SendText(ctx context.Context, sessionID string, to types.JID, text string) error
}

// Customers resolves customer recipients.
type Customers interface {
	ListCustomers(ctx context.Context, filter repo.CustomerFilter) ([]repo.Customer, error)
	GetCustomersByIDs(ctx context.Context, ids []string) ([]repo.Customer, error)
}

// StatusStore persists run snapshots between polls.
type StatusStore interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// EntryStatus is the delivery state of one recipient.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntrySending EntryStatus = "sending"
	EntrySent    EntryStatus = "sent"
	EntryFailed  EntryStatus = "failed"
)

// RunStatus is the state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// Request starts a broadcast.
type Request struct {
	Session      string   `json:"session"`
	Message      string   `json:"message"`
	Phones       []string `json:"phones"`
	CustomerIDs  []string `json:"customer_ids"`
	AllCustomers bool     `json:"all_customers"`
}

// Entry is one recipient of a run.
type Entry struct {
	To        string      `json:"to"`
	Name      string      `json:"name,omitempty"`
	Status    EntryStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`

	jid  types.JID
	text string
}

// Run is the pollable state of a broadcast.
type Run struct {
	ID         string     `json:"id"`
	Session    string     `json:"session"`
	Status     RunStatus  `json:"status"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Entries    []Entry    `json:"entries"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Config tunes the runner.
type Config struct {
	// Rate is messages per second; zero or less disables throttling.
	Rate  float64
	Burst int
	TTL   time.Duration
}

// Runner executes broadcast runs in the background.
type Runner struct {
	ctx       context.Context
	sender    Sender
	customers Customers
	store     StatusStore
	limiter   *rate.Limiter
	ttl       time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewRunner builds a runner whose runs live until ctx is cancelled. store may
// be nil, in which case runs are only kept in memory.
func NewRunner(ctx context.Context, cfg Config, sender Sender, customers Customers, store StatusStore, logger *slog.Logger, m *metrics.Metrics) *Runner {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Runner{
		ctx:       ctx,
		sender:    sender,
		customers: customers,
		store:     store,
		limiter:   rate.NewLimiter(limit, burst),
		ttl:       ttl,
		logger:    logger.With("component", "broadcast"),
		metrics:   m,
		runs:      make(map[string]*Run),
	}
}

// Start validates req, resolves its recipients and begins sending.
func (r *Runner) Start(ctx context.Context, req Request) (*Run, error) {
	req.Session = strings.TrimSpace(req.Session)
	if req.Session == "" {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if len(req.Phones) == 0 && len(req.CustomerIDs) == 0 && !req.AllCustomers {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidRequest)
	}

	entries, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidRequest)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Session:   req.Session,
		Status:    RunRunning,
		Entries:   entries,
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		if e.Status == EntryFailed {
			run.Failed++
		}
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	snapshot := run.snapshot()
	r.mu.Unlock()
	r.persist(snapshot)

	r.wg.Add(1)
	go r.execute(run)

	r.logger.Info("broadcast started", "run", run.ID, "session", run.Session, "recipients", len(entries))
	return snapshot, nil
}

// Get returns the latest snapshot of a run.
func (r *Runner) Get(ctx context.Context, id string) (*Run, bool, error) {
	r.mu.Lock()
	run, ok := r.runs[id]
	var snapshot *Run
	if ok {
		snapshot = run.snapshot()
	}
	r.mu.Unlock()
	if ok {
		return snapshot, true, nil
	}
	if r.store == nil {
		return nil, false, nil
	}
	var stored Run
	found, err := r.store.GetJSON(ctx, cache.BroadcastKey(id), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("load broadcast %s: %w", id, err)
	}
	if !found {
		return nil, false, nil
	}
	return &stored, true, nil
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// allCustomers pages through the customer list until a short page comes back.
func (r *Runner) allCustomers(ctx context.Context) ([]repo.Customer, error) {
	var customers []repo.Customer
	for offset := 0; ; offset += repo.MaxListLimit {
		page, err := r.customers.ListCustomers(ctx, repo.CustomerFilter{Limit: repo.MaxListLimit, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
		customers = append(customers, page...)
		if len(page) < repo.MaxListLimit {
			return customers, nil
		}
	}
}

func (r *Runner) resolve(ctx context.Context, req Request) ([]Entry, error) {
	var customers []repo.Customer
	switch {
	case req.AllCustomers:
		list, err := r.allCustomers(ctx)
		if err != nil {
			return nil, err
		}
		customers = list
	case len(req.CustomerIDs) > 0:
		list, err := r.customers.GetCustomersByIDs(ctx, req.CustomerIDs)
		if err != nil {
			return nil, fmt.Errorf("get customers: %w", err)
		}
		customers = list
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var entries []Entry
	add := func(to, name string) {
		e := Entry{To: to, Name: name, Status: EntryPending, UpdatedAt: now}
		jid, err := wa.ParseRecipient(to)
		if err != nil {
			e.Status = EntryFailed
			e.Error = err.Error()
		} else {
			if seen[jid.String()] {
				return
			}
			seen[jid.String()] = true
			e.jid = jid
		}
		e.text = RenderTemplate(req.Message, map[string]string{"name": name, "phone": to})
		entries = append(entries, e)
	}
	for _, c := range customers {
		add(c.Phone, c.Name)
	}
	for _, phone := range req.Phones {
		add(phone, "")
	}
	return entries, nil
}

func (r *Runner) execute(run *Run) {
	defer r.wg.Done()

	for i := range run.Entries {
		r.mu.Lock()
		if run.Entries[i].Status != EntryPending {
			r.mu.Unlock()
			continue
		}
		jid, text := run.Entries[i].jid, run.Entries[i].text
		r.mu.Unlock()

		if err := r.limiter.Wait(r.ctx); err != nil {
			r.finish(run, RunCancelled)
			return
		}
		r.transition(run, i, EntrySending, nil)

		err := r.sender.SendText(r.ctx, run.Session, jid, text)
		if err != nil {
			r.logger.Warn("broadcast send failed", "run", run.ID, "to", run.Entries[i].To, "error", err)
			r.transition(run, i, EntryFailed, err)
			continue
		}
		r.transition(run, i, EntrySent, nil)
	}
	r.finish(run, RunCompleted)
}

func (r *Runner) transition(run *Run, i int, status EntryStatus, err error) {
	r.mu.Lock()
	e := &run.Entries[i]
	e.Status = status
	e.UpdatedAt = time.Now().UTC()
	if err != nil {
		e.Error = err.Error()
	}
	switch status {
	case EntrySent:
		run.Sent++
	case EntryFailed:
		run.Failed++
	}
	snapshot := run.snapshot()
	r.mu.Unlock()

	if r.metrics != nil && (status == EntrySent || status == EntryFailed) {
		r.metrics.BroadcastMessages.WithLabelValues(string(status)).Inc()
	}
	r.persist(snapshot)
}

func (r *Runner) finish(run *Run, status RunStatus) {
	r.mu.Lock()
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	snapshot := run.snapshot()
	r.mu.Unlock()

	r.persist(snapshot)
	r.logger.Info("broadcast finished", "run", run.ID, "status", status, "sent", snapshot.Sent, "failed", snapshot.Failed)
}

func (r *Runner) persist(run *Run) {
	if r.store == nil {
		return
	}
	// A cancelled base context still gets its final snapshot written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if err := r.store.SetJSON(ctx, cache.BroadcastKey(run.ID), run, r.ttl); err != nil {
		r.logger.Warn("persist broadcast failed", "run", run.ID, "error", err)
		r.metrics.Error("broadcast")
	}
}

// snapshot copies the run; callers hold r.mu.
func (run *Run) snapshot() *Run {
	cp := *run
	cp.Entries = append([]Entry(nil), run.Entries...)
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
