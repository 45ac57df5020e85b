package models

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductIsSellable(t *testing.T) {
	cases := []struct {
		name string
		p    Product
		want bool
	}{
		{"countable in stock", Product{Countable: true, QuantityInStock: 1}, true},
		{"countable sold out", Product{Countable: true, QuantityInStock: 0}, false},
		{"bulk at threshold", Product{QuantityInStock: 200}, true},
		{"bulk below threshold", Product{QuantityInStock: 199}, false},
		{"bulk empty", Product{QuantityInStock: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.IsSellable())
		})
	}
}

func TestProductValidate(t *testing.T) {
	assert.NoError(t, Product{Title: "Bread", Price: 50}.Validate())
	assert.ErrorIs(t, Product{}.Validate(), ErrEmptyTitle)
	assert.ErrorIs(t, Product{Title: strings.Repeat("я", 26)}.Validate(), ErrTitleTooLong)
	assert.ErrorIs(t, Product{Title: "x", Price: -1}.Validate(), ErrNegativePrice)
	assert.ErrorIs(t, Product{Title: "x", QuantityInStock: -1}.Validate(), ErrNegativeQuantity)
}

func TestStockEntryFlags(t *testing.T) {
	assert.True(t, StockEntry{QuantityInStock: 0}.IsEmpty())
	assert.True(t, StockEntry{QuantityInStock: 100}.IsLow())
	assert.False(t, StockEntry{QuantityInStock: 101}.IsLow())
	assert.False(t, StockEntry{Countable: true, QuantityInStock: 5}.IsLow())
	assert.False(t, StockEntry{QuantityInStock: 0}.IsLow())
}

func TestInsufficientStockErrorUnwraps(t *testing.T) {
	var err error = &InsufficientStockError{Title: "Bread", Requested: 4, Available: 3}
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "Bread", ise.Title)
}

func TestLineTotals(t *testing.T) {
	assert.Equal(t, 100.0, CartLine{Title: "Bread", Countable: true, Quantity: 2, UnitPrice: 50}.Total())
	assert.Equal(t, 500.0, CartLine{Title: "Honey", Quantity: 500, UnitPrice: 1000}.Total())
	assert.Equal(t, 83.33, CartLine{Title: "Tea", Quantity: 200, UnitPrice: 416.66}.Total())
}

func TestCartTotalMatchesDraftTotal(t *testing.T) {
	s := NewChatSession()
	s.Cart = []CartLine{
		{Title: "Bread", Countable: true, Quantity: 2, UnitPrice: 49.99},
		{Title: "Tea", Quantity: 800, UnitPrice: 333.33},
	}
	s.BeginCheckout()
	assert.Equal(t, CartTotal(s.Cart), s.OrderDraft.Total())
	assert.Equal(t, FormatMoney(CartTotal(s.Cart)), FormatMoney(s.OrderDraft.Total()))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "100", FormatMoney(100))
	assert.Equal(t, "12.5", FormatMoney(12.5))
	assert.Equal(t, "0.3", FormatMoney(0.1+0.2))
}

func TestBeginCheckoutSnapshotsCart(t *testing.T) {
	s := NewChatSession()
	s.Cart = []CartLine{{Title: "Bread", Countable: true, Quantity: 1, UnitPrice: 50}}
	s.SelectedItem = "Bread"
	s.BeginCheckout()

	require.NotNil(t, s.OrderDraft)
	assert.Equal(t, StepCheckoutName, s.Step)
	assert.Empty(t, s.SelectedItem)

	s.Cart = nil
	assert.Len(t, s.OrderDraft.Cart, 1)

	s.CancelCheckout()
	assert.Nil(t, s.OrderDraft)
	assert.Equal(t, StepCartReview, s.Step)
}

func TestOrderDraftComplete(t *testing.T) {
	d := &OrderDraft{}
	assert.False(t, d.Complete())
	name, phone, pickup := "Ann", "+7900", true
	d.Name, d.Telephone = &name, &phone
	assert.False(t, d.Complete())
	d.Pickup = &pickup
	assert.True(t, d.Complete())
	d.ClearContact()
	assert.False(t, d.Complete())

	var nilDraft *OrderDraft
	assert.False(t, nilDraft.Complete())
}

func TestAdminSessionModesAreExclusive(t *testing.T) {
	s := NewAdminSession()
	s.BeginCreation()
	s.Creation.Title = "Bread"
	s.EnterStock()
	assert.Equal(t, AdminModeStock, s.Mode)
	assert.Nil(t, s.Creation)
	assert.Equal(t, FieldNone, s.Field())

	s.SelectTarget("Bread")
	s.BeginEdit(FieldAvailability, "3")
	s.EnterCatalog()
	assert.Equal(t, AdminModeEdit, s.Mode)
	assert.Empty(t, s.Target)
	assert.Nil(t, s.Editor)
}

func TestActionRoundTrip(t *testing.T) {
	actions := []Action{
		{Kind: ActionCancelCheckout},
		{Kind: ActionCancelDeletion},
		{Kind: ActionCancelCreation},
		{Kind: ActionNoDescription},
		{Kind: ActionEdit, Title: "Rye bread"},
		{Kind: ActionChangeQuantity, Title: "Honey, linden"},
	}
	for _, a := range actions {
		got, err := ParseAction(a.Encode())
		require.NoError(t, err, a.Encode())
		assert.Equal(t, a, got)
	}
}

func TestParseActionUnknown(t *testing.T) {
	for _, payload := range []string{"", "/edit", "/edit ", "/delete Bread", "cancel"} {
		_, err := ParseAction(payload)
		assert.ErrorIs(t, err, ErrUnknownAction, payload)
	}
}

func TestNewOrderCopiesDraft(t *testing.T) {
	name, phone, pickup := "Ann", "+7900", false
	d := &OrderDraft{
		Name: &name, Telephone: &phone, Pickup: &pickup,
		Cart: []CartLine{{Title: "Bread", Countable: true, Quantity: 2, UnitPrice: 50}},
	}
	o := NewOrder(42, d)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, int64(42), o.ChatID)
	assert.Equal(t, "Ann", o.Name)
	assert.False(t, o.Pickup)
	assert.Equal(t, 100.0, o.Total)

	d.Cart[0].Quantity = 5
	assert.Equal(t, 2, o.Lines[0].Quantity)
}

func TestReplyButtons(t *testing.T) {
	r := Reply{
		Keyboard: &ReplyKeyboard{Rows: [][]string{{"a", "b"}, {"c"}}},
		Inline:   &InlineKeyboard{Rows: [][]Button{{{Label: "d", Payload: "/cancel"}}}},
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Buttons())
}
