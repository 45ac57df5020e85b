// Package models defines the core data structures for OrderPipe.
//
// It includes catalog products, stock entries and reservations, which are shared
// between the catalog store, the flow engines and the notification channels.
package models

import (
	"errors"
	"fmt"
)

// Catalog rule constants
const (
	// BulkSellableThreshold is the minimum stock (grams) for a bulk product to be listed to customers.
	BulkSellableThreshold = 200
	// BulkLowStockThreshold flags bulk products in the operator stock list.
	BulkLowStockThreshold = 100
	// MaxCountableChoice is the largest unit count offered on the quantity keyboard.
	MaxCountableChoice = 10
	// MaxTitleBytes keeps "/change-quantity <title>" within Telegram's 64-byte callback limit.
	MaxTitleBytes = 64 - len("/change-quantity ")
)

// Error variables for better error handling and testability
var (
	ErrNotFound          = errors.New("product not found")
	ErrDuplicateTitle    = errors.New("product with this title already exists")
	ErrInsufficientStock = errors.New("not enough items in stock")
	ErrEmptyTitle        = errors.New("product title cannot be empty")
	ErrTitleTooLong      = errors.New("product title exceeds maximum length")
	ErrNegativePrice     = errors.New("price cannot be negative")
	ErrNegativeQuantity  = errors.New("quantity in stock cannot be negative")
	ErrUnknownAction     = errors.New("unknown action payload")
)

// InsufficientStockError reports which reservation could not be satisfied.
type InsufficientStockError struct {
	Title     string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough %q in stock: requested %d, available %d", e.Title, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Product is a catalog row. Title is the primary key.
type Product struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Countable       bool    `json:"countable"`
	Price           float64 `json:"price"` // per unit when countable, per kilogram otherwise
	QuantityInStock int     `json:"quantity_in_stock"`
}

// IsSellable reports whether the product may be listed to customers.
// Countable products need at least one unit; bulk products need the reserve threshold.
func (p Product) IsSellable() bool {
	return IsSellable(p.Countable, p.QuantityInStock)
}

// Validate performs validation on a Product before it is persisted.
func (p Product) Validate() error {
	if err := ValidateTitle(p.Title); err != nil {
		return err
	}
	if p.Price < 0 {
		return ErrNegativePrice
	}
	if p.QuantityInStock < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// IsSellable applies the availability rule to raw countability and stock values.
func IsSellable(countable bool, quantityInStock int) bool {
	if countable {
		return quantityInStock > 0
	}
	return quantityInStock >= BulkSellableThreshold
}

// ValidateTitle checks a product title against the catalog constraints.
func ValidateTitle(title string) error {
	if title == "" {
		return ErrEmptyTitle
	}
	if len(title) > MaxTitleBytes {
		return ErrTitleTooLong
	}
	return nil
}

// StockEntry is the operator-facing projection of a product used by the stock list.
type StockEntry struct {
	Title           string `json:"title"`
	Countable       bool   `json:"countable"`
	QuantityInStock int    `json:"quantity_in_stock"`
}

// IsEmpty reports zero stock.
func (e StockEntry) IsEmpty() bool {
	return e.QuantityInStock == 0
}

// IsLow reports a bulk product at or below the low-stock threshold.
func (e StockEntry) IsLow() bool {
	return !e.Countable && e.QuantityInStock > 0 && e.QuantityInStock <= BulkLowStockThreshold
}

// Reservation is a single stock decrement requested by a confirmed order.
type Reservation struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}
