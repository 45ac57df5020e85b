// Package store provides storage backends for OrderPipe.
//
// This file implements a PostgreSQL-backed catalog.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

// PostgresStore is a Catalog, OutboxRepo and DedupRepo backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Catalog.
var _ Catalog = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	ctx := context.Background()
	if err := migrateUp(ctx, "postgres", dsn); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres store ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) queryTitles(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan title row: %w", err)
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate title rows: %w", err)
	}
	return titles, nil
}

func (s *PostgresStore) ListSellableTitles(ctx context.Context) ([]string, error) {
	titles, err := s.queryTitles(ctx,
		`SELECT title FROM products
		 WHERE (countable AND quantity_in_stock > 0) OR (NOT countable AND quantity_in_stock >= $1)
		 ORDER BY title`,
		models.BulkSellableThreshold,
	)
	if err != nil {
		slog.Error("PostgresStore ListSellableTitles failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListSellableTitles succeeded", "count", len(titles))
	return titles, nil
}

func (s *PostgresStore) ListTitles(ctx context.Context) ([]string, error) {
	titles, err := s.queryTitles(ctx, `SELECT title FROM products ORDER BY title`)
	if err != nil {
		slog.Error("PostgresStore ListTitles failed", "error", err)
		return nil, err
	}
	return titles, nil
}

func (s *PostgresStore) ListStock(ctx context.Context) ([]models.StockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title, countable, quantity_in_stock FROM products ORDER BY title`)
	if err != nil {
		slog.Error("PostgresStore ListStock query failed", "error", err)
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	var entries []models.StockEntry
	for rows.Next() {
		var e models.StockEntry
		if err := rows.Scan(&e.Title, &e.Countable, &e.QuantityInStock); err != nil {
			slog.Error("PostgresStore ListStock scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, title string) (models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT title, description, countable, price, quantity_in_stock FROM products WHERE title = $1`, title,
	).Scan(&p.Title, &p.Description, &p.Countable, &p.Price, &p.QuantityInStock)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetProduct failed", "error", err, "title", title)
		return models.Product{}, fmt.Errorf("failed to get product %q: %w", title, err)
	}
	return p, nil
}

func (s *PostgresStore) ReserveProduct(ctx context.Context, title string, quantity int) error {
	return s.ReserveOrder(ctx, []models.Reservation{{Title: title, Quantity: quantity}})
}

// ReserveOrder decrements every line inside one transaction with conditional updates.
func (s *PostgresStore) ReserveOrder(ctx context.Context, reservations []models.Reservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback()

	for _, r := range mergeReservations(reservations) {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET quantity_in_stock = quantity_in_stock - $1 WHERE title = $2 AND quantity_in_stock >= $1`,
			r.Quantity, r.Title,
		)
		if err != nil {
			return fmt.Errorf("failed to reserve %q: %w", r.Title, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var available int
			err := tx.QueryRowContext(ctx, `SELECT quantity_in_stock FROM products WHERE title = $1`, r.Title).Scan(&available)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to read stock of %q: %w", r.Title, err)
			}
			slog.Info("PostgresStore ReserveOrder: insufficient stock", "title", r.Title, "requested", r.Quantity, "available", available)
			return &models.InsufficientStockError{Title: r.Title, Requested: r.Quantity, Available: available}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	slog.Debug("PostgresStore ReserveOrder succeeded", "lines", len(reservations))
	return nil
}

func (s *PostgresStore) execByTitle(ctx context.Context, op, title, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore "+op+" failed", "error", err, "title", title)
		return fmt.Errorf("failed to %s %q: %w", op, title, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	slog.Debug("PostgresStore "+op+" succeeded", "title", title)
	return nil
}

func (s *PostgresStore) ToggleCountable(ctx context.Context, title string) error {
	return s.execByTitle(ctx, "toggle countable", title,
		`UPDATE products SET countable = NOT countable WHERE title = $1`, title)
}

func (s *PostgresStore) RenameProduct(ctx context.Context, title, newTitle string) error {
	if err := models.ValidateTitle(newTitle); err != nil {
		return err
	}
	if title == newTitle {
		_, err := s.GetProduct(ctx, title)
		return err
	}
	err := s.execByTitle(ctx, "rename", title, `UPDATE products SET title = $1 WHERE title = $2`, newTitle, title)
	if isUniqueViolation(err) {
		return models.ErrDuplicateTitle
	}
	return err
}

func (s *PostgresStore) UpdateDescription(ctx context.Context, title, description string) error {
	return s.execByTitle(ctx, "update description", title,
		`UPDATE products SET description = $1 WHERE title = $2`, description, title)
}

func (s *PostgresStore) UpdatePrice(ctx context.Context, title string, price float64) error {
	if price < 0 {
		return models.ErrNegativePrice
	}
	return s.execByTitle(ctx, "update price", title,
		`UPDATE products SET price = $1 WHERE title = $2`, price, title)
}

func (s *PostgresStore) SetQuantity(ctx context.Context, title string, quantity int) error {
	if quantity < 0 {
		return models.ErrNegativeQuantity
	}
	return s.execByTitle(ctx, "set quantity", title,
		`UPDATE products SET quantity_in_stock = $1 WHERE title = $2`, quantity, title)
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, title string) error {
	return s.execByTitle(ctx, "delete", title, `DELETE FROM products WHERE title = $1`, title)
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p models.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid product: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (title, description, countable, price, quantity_in_stock) VALUES ($1, $2, $3, $4, $5)`,
		p.Title, p.Description, p.Countable, p.Price, p.QuantityInStock,
	)
	if isUniqueViolation(err) {
		return models.ErrDuplicateTitle
	}
	if err != nil {
		slog.Error("PostgresStore CreateProduct failed", "error", err, "title", p.Title)
		return fmt.Errorf("failed to create product %q: %w", p.Title, err)
	}
	slog.Info("PostgresStore CreateProduct succeeded", "title", p.Title)
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
