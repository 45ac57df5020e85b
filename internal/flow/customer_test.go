package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customerChat int64 = 1001

var (
	bread = models.Product{Title: "Bread", Description: "Rye", Countable: true, Price: 50, QuantityInStock: 3}
	honey = models.Product{Title: "Honey", Description: "Linden", Countable: false, Price: 1000, QuantityInStock: 900}
	buns  = models.Product{Title: "Buns", Countable: true, Price: 20, QuantityInStock: 0}
)

type recordingNotifier struct {
	mu     sync.Mutex
	orders []models.Order
	err    error
}

func (n *recordingNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.orders = append(n.orders, order)
	return nil
}

// failingCatalog fails every read after the wrapped catalog is switched off.
type failingCatalog struct {
	store.Catalog
	fail bool
}

var errCatalogDown = errors.New("catalog down")

func (c *failingCatalog) ListSellableTitles(ctx context.Context) ([]string, error) {
	if c.fail {
		return nil, errCatalogDown
	}
	return c.Catalog.ListSellableTitles(ctx)
}

func (c *failingCatalog) GetProduct(ctx context.Context, title string) (models.Product, error) {
	if c.fail {
		return models.Product{}, errCatalogDown
	}
	return c.Catalog.GetProduct(ctx, title)
}

func (c *failingCatalog) ReserveOrder(ctx context.Context, r []models.Reservation) error {
	if c.fail {
		return errCatalogDown
	}
	return c.Catalog.ReserveOrder(ctx, r)
}

type customerHarness struct {
	flow     *CustomerFlow
	catalog  *failingCatalog
	sessions *MemorySessionStore[models.ChatSession]
	notifier *recordingNotifier
}

func newCustomerHarness(products ...models.Product) *customerHarness {
	h := &customerHarness{
		catalog:  &failingCatalog{Catalog: store.NewInMemoryStore(products...)},
		sessions: NewMemorySessionStore(models.NewChatSession),
		notifier: &recordingNotifier{},
	}
	h.flow = NewCustomerFlow(h.catalog, h.sessions, h.notifier)
	return h
}

func (h *customerHarness) say(t *testing.T, text string) []models.Reply {
	t.Helper()
	replies, err := h.flow.Handle(context.Background(), models.TextEvent(customerChat, text))
	require.NoError(t, err, "Handle(%q)", text)
	require.NotEmpty(t, replies, "Handle(%q) returned no replies", text)
	return replies
}

func (h *customerHarness) session(t *testing.T) *models.ChatSession {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), customerChat)
	require.NoError(t, err)
	return s
}

func last(replies []models.Reply) models.Reply {
	return replies[len(replies)-1]
}

// checkout fills the cart and walks through checkout up to the receipt.
func (h *customerHarness) checkout(t *testing.T, picks map[string]string) models.Reply {
	t.Helper()
	for title, qty := range picks {
		h.say(t, CmdOrder)
		h.say(t, title)
		h.say(t, qty)
	}
	h.say(t, BtnPlaceOrder)
	h.say(t, "Anna")
	h.say(t, "+7 900 000 00 00")
	return last(h.say(t, BtnPickup))
}

func TestCustomerStartShowsWelcome(t *testing.T) {
	h := newCustomerHarness(bread)
	r := last(h.say(t, CmdStart))
	assert.Equal(t, []string{BtnMakeOrder}, r.Buttons())
	assert.Equal(t, models.StepBrowsing, h.session(t).Step)
}

func TestCustomerBrowseListsSellableOnly(t *testing.T) {
	h := newCustomerHarness(bread, honey, buns)
	r := last(h.say(t, CmdOrder))
	assert.Equal(t, []string{"Bread", "Honey"}, r.Buttons())
}

func TestCustomerBrowseEmptyCatalog(t *testing.T) {
	h := newCustomerHarness(buns)
	r := last(h.say(t, CmdOrder))
	assert.Empty(t, r.Buttons())
	assert.Contains(t, r.Text, "готовятся к продаже")
}

func TestCustomerCountableOptionsCappedByStock(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	r := last(h.say(t, "Bread"))

	require.NotNil(t, r.Keyboard)
	assert.Equal(t, [][]string{{BtnBack}, {"1 шт.", "2 шт.", "3 шт."}}, r.Keyboard.Rows)
	assert.Contains(t, r.Text, "50₽/шт.")

	s := h.session(t)
	assert.Equal(t, models.StepSizing, s.Step)
	assert.Equal(t, "Bread", s.SelectedItem)
}

func TestCustomerBulkOptionsCappedByStock(t *testing.T) {
	h := newCustomerHarness(honey)
	h.say(t, CmdOrder)
	r := last(h.say(t, "Honey"))
	assert.Equal(t, []string{BtnBack, "200гр", "500гр", "800гр"}, r.Buttons())
	assert.Contains(t, r.Text, "1000₽/кг")
}

func TestCustomerAddCountableLine(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	r := last(h.say(t, "2 шт."))
	assert.Contains(t, r.Text, "Bread (2 шт.)")

	s := h.session(t)
	require.Len(t, s.Cart, 1)
	assert.Equal(t, 100.0, s.Cart[0].Total())
	assert.Equal(t, models.StepBrowsing, s.Step)
	assert.Empty(t, s.SelectedItem)
}

func TestCustomerAddBulkLine(t *testing.T) {
	h := newCustomerHarness(honey)
	h.say(t, CmdOrder)
	h.say(t, "Honey")
	h.say(t, "500гр")

	s := h.session(t)
	require.Len(t, s.Cart, 1)
	assert.Equal(t, 500, s.Cart[0].Quantity)
	assert.Equal(t, 500.0, s.Cart[0].Total())
}

func TestCustomerRejectsQuantityBeyondStock(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	r := last(h.say(t, "5 шт."))
	assert.Contains(t, r.Buttons(), "3 шт.")
	assert.NotContains(t, r.Buttons(), "5 шт.")
	assert.Empty(t, h.session(t).Cart)
	assert.Equal(t, models.StepSizing, h.session(t).Step)
}

func TestCustomerRejectsWrongUnitKind(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "200гр")
	assert.Empty(t, h.session(t).Cart)
}

func TestCustomerQuantityWithoutSelection(t *testing.T) {
	h := newCustomerHarness(bread)
	r := last(h.say(t, "1 шт."))
	assert.Equal(t, "Сначала выберите продукт", r.Text)
	assert.Empty(t, h.session(t).Cart)
}

func TestCustomerUnknownTextGetsCorrection(t *testing.T) {
	h := newCustomerHarness(bread)
	r := last(h.say(t, "what do you have"))
	assert.Contains(t, r.Text, "Не понял вас")
	assert.Equal(t, []string{BtnContinue, BtnViewCart}, r.Buttons())
}

func TestCustomerSoldOutProduct(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	require.NoError(t, h.catalog.SetQuantity(context.Background(), "Bread", 0))
	r := last(h.say(t, "Bread"))
	// Bread left the sellable list, so it is not recognized as a product.
	assert.Contains(t, r.Text, "Не понял вас")
}

func TestCustomerEmptyCartView(t *testing.T) {
	h := newCustomerHarness(bread)
	r := last(h.say(t, CmdCart))
	assert.Contains(t, r.Text, "ничего нет в корзине")
	assert.Nil(t, r.Keyboard)
}

func TestCustomerPlaceOrderWithEmptyCartStaysShopping(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, BtnPlaceOrder)
	s := h.session(t)
	assert.Equal(t, models.StepBrowsing, s.Step)
	assert.Nil(t, s.OrderDraft)
}

func TestCustomerCartViewShowsTotal(t *testing.T) {
	h := newCustomerHarness(bread, honey)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "2 шт.")
	h.say(t, BtnContinue)
	h.say(t, "Honey")
	h.say(t, "500гр")

	r := last(h.say(t, BtnViewCart))
	assert.Equal(t, "Bread (2 шт.) – 100₽\nHoney (500 гр) – 500₽\n\nИтого: 600₽", r.Text)
	assert.Equal(t, []string{BtnBack, BtnClearCart, BtnPlaceOrder}, r.Buttons())
	assert.Equal(t, models.StepCartReview, h.session(t).Step)
}

func TestCustomerClearCart(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "1 шт.")
	h.say(t, BtnClearCart)
	assert.Empty(t, h.session(t).Cart)
}

func TestCustomerCheckoutFieldOrder(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "2 шт.")

	r := last(h.say(t, BtnPlaceOrder))
	assert.Equal(t, []string{BtnCancelCheckout}, r.Buttons())
	assert.Equal(t, models.StepCheckoutName, h.session(t).Step)

	// A browse phrase during checkout repeats the current prompt.
	r = last(h.say(t, BtnMakeOrder))
	assert.Contains(t, r.Text, "как вас зовут")
	assert.Equal(t, models.StepCheckoutName, h.session(t).Step)

	h.say(t, "Anna")
	s := h.session(t)
	assert.Equal(t, models.StepCheckoutPhone, s.Step)
	require.NotNil(t, s.OrderDraft.Name)
	assert.Equal(t, "Anna", *s.OrderDraft.Name)
	assert.Nil(t, s.OrderDraft.Telephone)

	r = last(h.say(t, "+7 900 000 00 00"))
	assert.Equal(t, []string{BtnDelivery, BtnPickup}, r.Buttons())
	assert.Equal(t, models.StepCheckoutDelivery, h.session(t).Step)

	// Free text does not pick a fulfillment mode.
	h.say(t, "tomorrow")
	assert.Nil(t, h.session(t).OrderDraft.Pickup)

	r = last(h.say(t, BtnDelivery))
	assert.Contains(t, r.Text, "Bread (2 шт.) – 100₽")
	assert.Contains(t, r.Text, "Итого: 100₽")
	assert.Contains(t, r.Text, "Имя: Anna")
	assert.Contains(t, r.Text, "С доставкой на дом")
	assert.Equal(t, []string{BtnConfirm, BtnEditInfo}, r.Buttons())
	assert.True(t, h.session(t).OrderDraft.Complete())
}

func TestCustomerCartViewDuringCheckoutKeepsStep(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "1 шт.")
	h.say(t, BtnPlaceOrder)
	h.say(t, "Anna")

	r := last(h.say(t, CmdCart))
	assert.Contains(t, r.Text, "Bread (1 шт.)")
	assert.Equal(t, models.StepCheckoutPhone, h.session(t).Step)
}

func TestCustomerEditInfoRestartsContact(t *testing.T) {
	h := newCustomerHarness(bread)
	h.checkout(t, map[string]string{"Bread": "1 шт."})

	replies := h.say(t, BtnEditInfo)
	assert.Len(t, replies, 2)
	s := h.session(t)
	assert.Equal(t, models.StepCheckoutName, s.Step)
	assert.Nil(t, s.OrderDraft.Name)
	assert.Nil(t, s.OrderDraft.Telephone)
	assert.Nil(t, s.OrderDraft.Pickup)
	assert.Len(t, s.OrderDraft.Cart, 1)
}

func TestCustomerCancelCheckoutKeepsCart(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	h.say(t, "Bread")
	h.say(t, "1 шт.")
	h.say(t, BtnPlaceOrder)
	h.say(t, "Anna")

	replies, err := h.flow.Handle(context.Background(), models.ActionEvent(customerChat, models.Action{Kind: models.ActionCancelCheckout}))
	require.NoError(t, err)
	assert.Contains(t, last(replies).Text, "Заказ отменён")

	s := h.session(t)
	assert.Nil(t, s.OrderDraft)
	assert.Len(t, s.Cart, 1)
	assert.Equal(t, models.StepCartReview, s.Step)
}

func TestCustomerConfirmPlacesOrder(t *testing.T) {
	h := newCustomerHarness(bread, honey)
	receipt := h.checkout(t, map[string]string{"Bread": "2 шт.", "Honey": "500гр"})
	assert.Contains(t, receipt.Text, "Итого: 600₽")

	replies := h.say(t, BtnConfirm)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Ваш заказ оформлен")
	assert.Equal(t, []string{BtnMakeOrder}, replies[1].Buttons())

	require.Len(t, h.notifier.orders, 1)
	order := h.notifier.orders[0]
	assert.Equal(t, customerChat, order.ChatID)
	assert.Equal(t, "Anna", order.Name)
	assert.True(t, order.Pickup)
	assert.Equal(t, 600.0, order.Total)

	text := FormatOrderNotification(order)
	for _, line := range strings.Split(formatCart(order.Lines), "\n") {
		assert.Contains(t, receipt.Text, line, "notification and receipt must agree")
	}
	assert.Contains(t, text, "Итого: 600₽")
	assert.Contains(t, text, "Самовывоз")

	p, err := h.catalog.GetProduct(context.Background(), "Bread")
	require.NoError(t, err)
	assert.Equal(t, 1, p.QuantityInStock)
	p, err = h.catalog.GetProduct(context.Background(), "Honey")
	require.NoError(t, err)
	assert.Equal(t, 400, p.QuantityInStock)

	s := h.session(t)
	assert.Empty(t, s.Cart)
	assert.Nil(t, s.OrderDraft)
	assert.Equal(t, models.StepBrowsing, s.Step)
}

func TestCustomerConfirmInsufficientStockKeepsCart(t *testing.T) {
	h := newCustomerHarness(bread)
	h.checkout(t, map[string]string{"Bread": "3 шт."})
	require.NoError(t, h.catalog.SetQuantity(context.Background(), "Bread", 2))

	r := last(h.say(t, BtnConfirm))
	assert.Contains(t, r.Text, "Bread")
	assert.Empty(t, h.notifier.orders)

	s := h.session(t)
	assert.Len(t, s.Cart, 1)
	assert.Nil(t, s.OrderDraft)
	assert.Equal(t, models.StepCartReview, s.Step)

	p, err := h.catalog.GetProduct(context.Background(), "Bread")
	require.NoError(t, err)
	assert.Equal(t, 2, p.QuantityInStock)
}

func TestCustomerStoreFailureLeavesSessionUnchanged(t *testing.T) {
	h := newCustomerHarness(bread)
	h.say(t, CmdOrder)
	before := h.session(t)

	h.catalog.fail = true
	_, err := h.flow.Handle(context.Background(), models.TextEvent(customerChat, "Bread"))
	require.ErrorIs(t, err, errCatalogDown)
	assert.Equal(t, before, h.session(t))

	fr := h.flow.FailureReply(customerChat)
	assert.Equal(t, []string{BtnRestart}, fr.Buttons())
}

func TestCustomerNotifyFailureResetsSession(t *testing.T) {
	h := newCustomerHarness(bread)
	h.checkout(t, map[string]string{"Bread": "1 шт."})
	h.notifier.err = errors.New("telegram down")

	_, err := h.flow.Handle(context.Background(), models.TextEvent(customerChat, BtnConfirm))
	require.Error(t, err)

	s := h.session(t)
	assert.Empty(t, s.Cart)
	assert.Nil(t, s.OrderDraft)

	p, err := h.catalog.GetProduct(context.Background(), "Bread")
	require.NoError(t, err)
	assert.Equal(t, 2, p.QuantityInStock)
}

func TestCustomerDraftWithoutCheckoutStepRecovers(t *testing.T) {
	h := newCustomerHarness(bread)
	require.NoError(t, h.sessions.Put(context.Background(), customerChat, &models.ChatSession{Step: models.StepCheckoutConfirm}))
	r := last(h.say(t, CmdOrder))
	assert.Equal(t, []string{"Bread"}, r.Buttons())
}
