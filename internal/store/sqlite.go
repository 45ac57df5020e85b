// Package store provides storage backends for OrderPipe.
//
// This file implements an SQLite-backed catalog.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// SQLiteStore is a Catalog, OutboxRepo and DedupRepo backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Catalog.
var _ Catalog = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	ctx := context.Background()
	if err := migrateUp(ctx, "sqlite3", dsn); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; transactions must not contend with other connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite store ready", "dir", dir)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) queryTitles(ctx context.Context, query string, args ...any) ([]string, error) {
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

func (s *SQLiteStore) ListSellableTitles(ctx context.Context) ([]string, error) {
	titles, err := s.queryTitles(ctx,
		`SELECT title FROM products
		 WHERE (countable = 1 AND quantity_in_stock > 0) OR (countable = 0 AND quantity_in_stock >= ?)
		 ORDER BY title`,
		models.BulkSellableThreshold,
	)
	if err != nil {
		slog.Error("SQLiteStore ListSellableTitles failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListSellableTitles succeeded", "count", len(titles))
	return titles, nil
}

func (s *SQLiteStore) ListTitles(ctx context.Context) ([]string, error) {
	titles, err := s.queryTitles(ctx, `SELECT title FROM products ORDER BY title`)
	if err != nil {
		slog.Error("SQLiteStore ListTitles failed", "error", err)
		return nil, err
	}
	return titles, nil
}

func (s *SQLiteStore) ListStock(ctx context.Context) ([]models.StockEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title, countable, quantity_in_stock FROM products ORDER BY title`)
	if err != nil {
		slog.Error("SQLiteStore ListStock query failed", "error", err)
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	var entries []models.StockEntry
	for rows.Next() {
		var e models.StockEntry
		if err := rows.Scan(&e.Title, &e.Countable, &e.QuantityInStock); err != nil {
			slog.Error("SQLiteStore ListStock scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan stock row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock rows: %w", err)
	}
	slog.Debug("SQLiteStore ListStock succeeded", "count", len(entries))
	return entries, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, title string) (models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT title, description, countable, price, quantity_in_stock FROM products WHERE title = ?`, title,
	).Scan(&p.Title, &p.Description, &p.Countable, &p.Price, &p.QuantityInStock)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, models.ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetProduct failed", "error", err, "title", title)
		return models.Product{}, fmt.Errorf("failed to get product %q: %w", title, err)
	}
	return p, nil
}

func (s *SQLiteStore) ReserveProduct(ctx context.Context, title string, quantity int) error {
	return s.ReserveOrder(ctx, []models.Reservation{{Title: title, Quantity: quantity}})
}

// ReserveOrder decrements every line inside one transaction. Each decrement is
// conditional on the remaining stock, so a short line rolls back the whole order.
func (s *SQLiteStore) ReserveOrder(ctx context.Context, reservations []models.Reservation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reservation: %w", err)
	}
	defer tx.Rollback()

	for _, r := range mergeReservations(reservations) {
		res, err := tx.ExecContext(ctx,
			`UPDATE products SET quantity_in_stock = quantity_in_stock - ? WHERE title = ? AND quantity_in_stock >= ?`,
			r.Quantity, r.Title, r.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to reserve %q: %w", r.Title, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var available int
			err := tx.QueryRowContext(ctx, `SELECT quantity_in_stock FROM products WHERE title = ?`, r.Title).Scan(&available)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to read stock of %q: %w", r.Title, err)
			}
			slog.Info("SQLiteStore ReserveOrder: insufficient stock", "title", r.Title, "requested", r.Quantity, "available", available)
			return &models.InsufficientStockError{Title: r.Title, Requested: r.Quantity, Available: available}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}
	slog.Debug("SQLiteStore ReserveOrder succeeded", "lines", len(reservations))
	return nil
}

// execByTitle runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) execByTitle(ctx context.Context, op, title, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore "+op+" failed", "error", err, "title", title)
		return fmt.Errorf("failed to %s %q: %w", op, title, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	slog.Debug("SQLiteStore "+op+" succeeded", "title", title)
	return nil
}

func (s *SQLiteStore) ToggleCountable(ctx context.Context, title string) error {
	return s.execByTitle(ctx, "toggle countable", title,
		`UPDATE products SET countable = 1 - countable WHERE title = ?`, title)
}

func (s *SQLiteStore) RenameProduct(ctx context.Context, title, newTitle string) error {
	if err := models.ValidateTitle(newTitle); err != nil {
		return err
	}
	if title == newTitle {
		_, err := s.GetProduct(ctx, title)
		return err
	}
	err := s.execByTitle(ctx, "rename", title, `UPDATE products SET title = ? WHERE title = ?`, newTitle, title)
	if isSQLiteConstraint(err) {
		return models.ErrDuplicateTitle
	}
	return err
}

func (s *SQLiteStore) UpdateDescription(ctx context.Context, title, description string) error {
	return s.execByTitle(ctx, "update description", title,
		`UPDATE products SET description = ? WHERE title = ?`, description, title)
}

func (s *SQLiteStore) UpdatePrice(ctx context.Context, title string, price float64) error {
	if price < 0 {
		return models.ErrNegativePrice
	}
	return s.execByTitle(ctx, "update price", title,
		`UPDATE products SET price = ? WHERE title = ?`, price, title)
}

func (s *SQLiteStore) SetQuantity(ctx context.Context, title string, quantity int) error {
	if quantity < 0 {
		return models.ErrNegativeQuantity
	}
	return s.execByTitle(ctx, "set quantity", title,
		`UPDATE products SET quantity_in_stock = ? WHERE title = ?`, quantity, title)
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, title string) error {
	return s.execByTitle(ctx, "delete", title, `DELETE FROM products WHERE title = ?`, title)
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p models.Product) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid product: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (title, description, countable, price, quantity_in_stock) VALUES (?, ?, ?, ?, ?)`,
		p.Title, p.Description, p.Countable, p.Price, p.QuantityInStock,
	)
	if isSQLiteConstraint(err) {
		return models.ErrDuplicateTitle
	}
	if err != nil {
		slog.Error("SQLiteStore CreateProduct failed", "error", err, "title", p.Title)
		return fmt.Errorf("failed to create product %q: %w", p.Title, err)
	}
	slog.Info("SQLiteStore CreateProduct succeeded", "title", p.Title)
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
