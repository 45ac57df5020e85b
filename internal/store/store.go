// Package store provides catalog storage backends for OrderPipe.
//
// It includes an in-memory catalog for tests and development, and persistent
// SQLite and PostgreSQL catalogs that also carry the notification outbox and
// inbound de-duplication tables.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Catalog is the catalog store contract consumed by the flow engines.
// Update operations overwrite by title and report models.ErrNotFound for unknown titles.
type Catalog interface {
	// ListSellableTitles returns the titles customers may order, per models.IsSellable.
	ListSellableTitles(ctx context.Context) ([]string, error)
	// ListTitles returns every title regardless of stock.
	ListTitles(ctx context.Context) ([]string, error)
	ListStock(ctx context.Context) ([]models.StockEntry, error)
	GetProduct(ctx context.Context, title string) (models.Product, error)

	// ReserveProduct decrements stock only when enough is available.
	ReserveProduct(ctx context.Context, title string, quantity int) error
	// ReserveOrder applies all reservations or none of them.
	ReserveOrder(ctx context.Context, reservations []models.Reservation) error

	ToggleCountable(ctx context.Context, title string) error
	RenameProduct(ctx context.Context, title, newTitle string) error
	UpdateDescription(ctx context.Context, title, description string) error
	UpdatePrice(ctx context.Context, title string, price float64) error
	SetQuantity(ctx context.Context, title string, quantity int) error
	DeleteProduct(ctx context.Context, title string) error
	CreateProduct(ctx context.Context, p models.Product) error

	Ping(ctx context.Context) error
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a functional option for configuring stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for URL or key=value PostgreSQL DSNs and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	for _, key := range []string{"host=", "user=", "dbname=", "password=", "sslmode="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite3"
}

// mergeReservations folds repeated titles into one decrement, keeping first-seen order.
func mergeReservations(reservations []models.Reservation) []models.Reservation {
	idx := make(map[string]int, len(reservations))
	var out []models.Reservation
	for _, r := range reservations {
		if i, ok := idx[r.Title]; ok {
			out[i].Quantity += r.Quantity
			continue
		}
		idx[r.Title] = len(out)
		out = append(out, r)
	}
	return out
}

// InMemoryStore is a mutex-guarded catalog kept in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	products map[string]models.Product
}

// Compile-time check that InMemoryStore implements Catalog.
var _ Catalog = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory catalog seeded with products.
func NewInMemoryStore(products ...models.Product) *InMemoryStore {
	s := &InMemoryStore{products: make(map[string]models.Product, len(products))}
	for _, p := range products {
		s.products[p.Title] = p
	}
	return s
}

func (s *InMemoryStore) sortedLocked(keep func(models.Product) bool) []models.Product {
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (s *InMemoryStore) ListSellableTitles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var titles []string
	for _, p := range s.sortedLocked(models.Product.IsSellable) {
		titles = append(titles, p.Title)
	}
	return titles, nil
}

func (s *InMemoryStore) ListTitles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var titles []string
	for _, p := range s.sortedLocked(nil) {
		titles = append(titles, p.Title)
	}
	return titles, nil
}

func (s *InMemoryStore) ListStock(ctx context.Context) ([]models.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.StockEntry
	for _, p := range s.sortedLocked(nil) {
		entries = append(entries, models.StockEntry{Title: p.Title, Countable: p.Countable, QuantityInStock: p.QuantityInStock})
	}
	return entries, nil
}

func (s *InMemoryStore) GetProduct(ctx context.Context, title string) (models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[title]
	if !ok {
		return models.Product{}, models.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) ReserveProduct(ctx context.Context, title string, quantity int) error {
	return s.ReserveOrder(ctx, []models.Reservation{{Title: title, Quantity: quantity}})
}

func (s *InMemoryStore) ReserveOrder(ctx context.Context, reservations []models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := mergeReservations(reservations)
	for _, r := range merged {
		available := s.products[r.Title].QuantityInStock
		if available < r.Quantity {
			return &models.InsufficientStockError{Title: r.Title, Requested: r.Quantity, Available: available}
		}
	}
	for _, r := range merged {
		p := s.products[r.Title]
		p.QuantityInStock -= r.Quantity
		s.products[r.Title] = p
	}
	slog.Debug("InMemoryStore.ReserveOrder: reserved", "lines", len(merged))
	return nil
}

// update applies fn to an existing product under the write lock.
func (s *InMemoryStore) update(title string, fn func(*models.Product)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[title]
	if !ok {
		return models.ErrNotFound
	}
	fn(&p)
	s.products[title] = p
	return nil
}

func (s *InMemoryStore) ToggleCountable(ctx context.Context, title string) error {
	return s.update(title, func(p *models.Product) { p.Countable = !p.Countable })
}

func (s *InMemoryStore) RenameProduct(ctx context.Context, title, newTitle string) error {
	if err := models.ValidateTitle(newTitle); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[title]
	if !ok {
		return models.ErrNotFound
	}
	if title == newTitle {
		return nil
	}
	if _, taken := s.products[newTitle]; taken {
		return models.ErrDuplicateTitle
	}
	delete(s.products, title)
	p.Title = newTitle
	s.products[newTitle] = p
	return nil
}

func (s *InMemoryStore) UpdateDescription(ctx context.Context, title, description string) error {
	return s.update(title, func(p *models.Product) { p.Description = description })
}

func (s *InMemoryStore) UpdatePrice(ctx context.Context, title string, price float64) error {
	if price < 0 {
		return models.ErrNegativePrice
	}
	return s.update(title, func(p *models.Product) { p.Price = price })
}

func (s *InMemoryStore) SetQuantity(ctx context.Context, title string, quantity int) error {
	if quantity < 0 {
		return models.ErrNegativeQuantity
	}
	return s.update(title, func(p *models.Product) { p.QuantityInStock = quantity })
}

func (s *InMemoryStore) DeleteProduct(ctx context.Context, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[title]; !ok {
		return models.ErrNotFound
	}
	delete(s.products, title)
	return nil
}

func (s *InMemoryStore) CreateProduct(ctx context.Context, p models.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid product: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.Title]; ok {
		return models.ErrDuplicateTitle
	}
	s.products[p.Title] = p
	return nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
