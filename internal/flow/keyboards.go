package flow

import (
	"fmt"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

const quantityRowWidth = 3

// bulkLadder is the fixed gram ladder offered for bulk products.
var bulkLadder = []struct {
	Label string
	Grams int
}{
	{"200гр", 200},
	{"500гр", 500},
	{"800гр", 800},
	{"1кг", 1000},
	{"1.2кг", 1200},
	{"1.5кг", 1500},
}

// quantityLabel is a parsed quantity button.
type quantityLabel struct {
	Countable bool
	Quantity  int
}

// parseQuantityLabel recognizes "N шт." for 1..10 and the bulk ladder labels.
func parseQuantityLabel(text string) (quantityLabel, bool) {
	for n := 1; n <= models.MaxCountableChoice; n++ {
		if text == piecesLabel(n) {
			return quantityLabel{Countable: true, Quantity: n}, true
		}
	}
	for _, step := range bulkLadder {
		if text == step.Label {
			return quantityLabel{Countable: false, Quantity: step.Grams}, true
		}
	}
	return quantityLabel{}, false
}

func piecesLabel(n int) string {
	return fmt.Sprintf("%d %s", n, models.UnitPieces)
}

// quantityOptions lists the labels a customer may pick, never exceeding stock.
func quantityOptions(p models.Product) []string {
	var opts []string
	if p.Countable {
		for n := 1; n <= min(models.MaxCountableChoice, p.QuantityInStock); n++ {
			opts = append(opts, piecesLabel(n))
		}
		return opts
	}
	for _, step := range bulkLadder {
		if step.Grams <= p.QuantityInStock {
			opts = append(opts, step.Label)
		}
	}
	return opts
}

func chunk(labels []string, width int) [][]string {
	var rows [][]string
	for len(labels) > width {
		rows = append(rows, labels[:width])
		labels = labels[width:]
	}
	if len(labels) > 0 {
		rows = append(rows, labels)
	}
	return rows
}

func keyboard(rows ...[]string) *models.ReplyKeyboard {
	return &models.ReplyKeyboard{Rows: rows}
}

func oneTimeKeyboard(rows ...[]string) *models.ReplyKeyboard {
	return &models.ReplyKeyboard{Rows: rows, OneTime: true}
}

func inline(rows ...[]models.Button) *models.InlineKeyboard {
	return &models.InlineKeyboard{Rows: rows}
}

func button(label string, action models.Action) models.Button {
	return models.Button{Label: label, Payload: action.Encode()}
}

func quantityKeyboard(p models.Product) *models.ReplyKeyboard {
	rows := [][]string{{BtnBack}}
	rows = append(rows, chunk(quantityOptions(p), quantityRowWidth)...)
	return keyboard(rows...)
}

// catalogKeyboard puts one sellable title per row.
func catalogKeyboard(titles []string) *models.ReplyKeyboard {
	rows := make([][]string, 0, len(titles))
	for _, t := range titles {
		rows = append(rows, []string{t})
	}
	return keyboard(rows...)
}

func cancelCheckoutInline() *models.InlineKeyboard {
	return inline([]models.Button{button(BtnCancelCheckout, models.Action{Kind: models.ActionCancelCheckout})})
}

func editInline(titles []string) *models.InlineKeyboard {
	rows := make([][]models.Button, 0, len(titles))
	for _, t := range titles {
		rows = append(rows, []models.Button{button(t, models.Action{Kind: models.ActionEdit, Title: t})})
	}
	return inline(rows...)
}

func stockInline(entries []models.StockEntry) *models.InlineKeyboard {
	rows := make([][]models.Button, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []models.Button{button(formatStockEntry(e), models.Action{Kind: models.ActionChangeQuantity, Title: e.Title})})
	}
	return inline(rows...)
}

func editMenuKeyboard() *models.ReplyKeyboard {
	return oneTimeKeyboard(
		[]string{BtnCatalogBack},
		[]string{BtnRename},
		[]string{BtnEditDescription},
		[]string{BtnEditPrice},
		[]string{BtnToggleCountable},
		[]string{BtnDelete},
	)
}
