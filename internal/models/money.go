package models

import (
	"math"
	"strconv"
)

// Unit labels used wherever a quantity is rendered.
const (
	UnitPieces = "шт."
	UnitGrams  = "гр"
	UnitKilo   = "кг"
)

// RoundMoney rounds to kopecks.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatMoney renders an amount without trailing zeros, e.g. 100, 12.5.
func FormatMoney(v float64) string {
	return strconv.FormatFloat(RoundMoney(v), 'f', -1, 64)
}

// LineTotal applies the line rule: unit price times count for countable goods,
// price per kilogram divided by 1000 times grams for bulk goods.
func LineTotal(countable bool, unitPrice float64, quantity int) float64 {
	if countable {
		return RoundMoney(unitPrice * float64(quantity))
	}
	return RoundMoney(unitPrice / 1000 * float64(quantity))
}

// CartTotal sums the already rounded line totals so every view renders the same figure.
func CartTotal(lines []CartLine) float64 {
	var total float64
	for _, l := range lines {
		total += l.Total()
	}
	return RoundMoney(total)
}

// PriceUnit returns the unit a product price refers to.
func PriceUnit(countable bool) string {
	if countable {
		return UnitPieces
	}
	return UnitKilo
}

// QuantityUnit returns the unit a cart quantity is measured in.
func QuantityUnit(countable bool) string {
	if countable {
		return UnitPieces
	}
	return UnitGrams
}
