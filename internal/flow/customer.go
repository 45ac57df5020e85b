package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// customerInput is the category an inbound customer event is classified into.
type customerInput int

const (
	inRestart customerInput = iota
	inViewCart
	inBrowse
	inPlaceOrder
	inDelivery
	inPickup
	inEditInfo
	inConfirm
	inQuantity
	inCancel
	inText
)

var customerPhrases = map[string]customerInput{
	CmdStart:      inRestart,
	BtnRestart:    inRestart,
	BtnClearCart:  inRestart,
	CmdCart:       inViewCart,
	BtnViewCart:   inViewCart,
	CmdOrder:      inBrowse,
	BtnMakeOrder:  inBrowse,
	BtnContinue:   inBrowse,
	BtnBack:       inBrowse,
	BtnPlaceOrder: inPlaceOrder,
	BtnDelivery:   inDelivery,
	BtnPickup:     inPickup,
	BtnEditInfo:   inEditInfo,
	BtnConfirm:    inConfirm,
}

func classifyCustomer(ev models.Event) customerInput {
	if ev.Kind == models.EventAction {
		if ev.Action.Kind == models.ActionCancelCheckout {
			return inCancel
		}
		return inText
	}
	if in, ok := customerPhrases[ev.Text]; ok {
		return in
	}
	if _, ok := parseQuantityLabel(ev.Text); ok {
		return inQuantity
	}
	return inText
}

// customerTurn carries one event through a transition.
type customerTurn struct {
	chatID  int64
	text    string
	session *models.ChatSession
}

type customerHandler func(f *CustomerFlow, ctx context.Context, t *customerTurn) ([]models.Reply, error)

// customerTransitions maps (step, input) to its handler. Missing inputs fall
// back to the step's inText entry.
var customerTransitions = buildCustomerTransitions()

func buildCustomerTransitions() map[models.Step]map[customerInput]customerHandler {
	shopping := map[customerInput]customerHandler{
		inRestart:    (*CustomerFlow).restart,
		inViewCart:   (*CustomerFlow).viewCart,
		inBrowse:     (*CustomerFlow).browse,
		inPlaceOrder: (*CustomerFlow).placeOrder,
		inQuantity:   (*CustomerFlow).addQuantity,
		inCancel:     (*CustomerFlow).cancelCheckout,
		inText:       (*CustomerFlow).selectProduct,
	}
	checkout := func(text customerHandler) map[customerInput]customerHandler {
		return map[customerInput]customerHandler{
			inRestart:    (*CustomerFlow).restart,
			inViewCart:   (*CustomerFlow).viewCart,
			inBrowse:     (*CustomerFlow).repeatCheckoutPrompt,
			inPlaceOrder: (*CustomerFlow).placeOrder,
			inCancel:     (*CustomerFlow).cancelCheckout,
			inText:       text,
		}
	}

	delivery := checkout((*CustomerFlow).repeatCheckoutPrompt)
	delivery[inDelivery] = (*CustomerFlow).chooseDelivery
	delivery[inPickup] = (*CustomerFlow).choosePickup

	confirm := checkout((*CustomerFlow).repeatCheckoutPrompt)
	confirm[inDelivery] = (*CustomerFlow).chooseDelivery
	confirm[inPickup] = (*CustomerFlow).choosePickup
	confirm[inEditInfo] = (*CustomerFlow).editInfo
	confirm[inConfirm] = (*CustomerFlow).confirmOrder

	return map[models.Step]map[customerInput]customerHandler{
		models.StepBrowsing:         shopping,
		models.StepSizing:           shopping,
		models.StepCartReview:       shopping,
		models.StepCheckoutName:     checkout((*CustomerFlow).captureName),
		models.StepCheckoutPhone:    checkout((*CustomerFlow).capturePhone),
		models.StepCheckoutDelivery: delivery,
		models.StepCheckoutConfirm:  confirm,
	}
}

func routeCustomer(step models.Step, in customerInput) customerHandler {
	table, ok := customerTransitions[step]
	if !ok {
		table = customerTransitions[models.StepBrowsing]
	}
	if h, ok := table[in]; ok {
		return h
	}
	return table[inText]
}

// CustomerFlow is the customer ordering state machine.
type CustomerFlow struct {
	catalog  store.Catalog
	sessions SessionStore[models.ChatSession]
	notifier OrderNotifier
}

// Compile-time check that CustomerFlow implements Engine.
var _ Engine = (*CustomerFlow)(nil)

// NewCustomerFlow creates the customer engine.
func NewCustomerFlow(catalog store.Catalog, sessions SessionStore[models.ChatSession], notifier OrderNotifier) *CustomerFlow {
	return &CustomerFlow{catalog: catalog, sessions: sessions, notifier: notifier}
}

// Handle classifies the event, runs the transition for the current step and
// saves the session. On error the session is left as it was before the event.
func (f *CustomerFlow) Handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	session, err := f.sessions.Get(ctx, ev.ChatID)
	if err != nil {
		return nil, err
	}
	if session.Step == "" || (session.Step.InCheckout() && session.OrderDraft == nil) {
		session.Step = models.StepBrowsing
	}
	in := classifyCustomer(ev)
	slog.Debug("CustomerFlow.Handle", "chatID", ev.ChatID, "step", session.Step, "input", in)

	t := &customerTurn{chatID: ev.ChatID, text: ev.Text, session: session}
	replies, err := routeCustomer(session.Step, in)(f, ctx, t)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.Put(ctx, ev.ChatID, session); err != nil {
		return nil, err
	}
	return replies, nil
}

// FailureReply is the generic retry prompt with a restart affordance.
func (f *CustomerFlow) FailureReply(chatID int64) models.Reply {
	return models.Reply{ChatID: chatID, Text: customerErrorReply, Keyboard: oneTimeKeyboard([]string{BtnRestart})}
}

func (t *customerTurn) reply(text string) models.Reply {
	return models.Reply{ChatID: t.chatID, Text: text}
}

func (f *CustomerFlow) restart(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	t.session.Reset()
	return []models.Reply{f.welcome(t)}, nil
}

func (f *CustomerFlow) welcome(t *customerTurn) models.Reply {
	r := t.reply("Добро пожаловать в тестовый бот. Выберите действие")
	r.Keyboard = keyboard([]string{BtnMakeOrder})
	return r
}

func (f *CustomerFlow) viewCart(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	s := t.session
	if len(s.Cart) == 0 {
		return []models.Reply{t.reply("У вас пока ничего нет в корзине. Вы можете выбрать что-нибудь из нашего каталога")}, nil
	}
	if !s.Step.InCheckout() {
		s.SelectedItem = ""
		s.Step = models.StepCartReview
	}
	r := t.reply(formatCart(s.Cart))
	r.Keyboard = oneTimeKeyboard([]string{BtnBack, BtnClearCart}, []string{BtnPlaceOrder})
	return []models.Reply{r}, nil
}

func (f *CustomerFlow) browse(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	titles, err := f.catalog.ListSellableTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sellable products: %w", err)
	}
	t.session.SelectedItem = ""
	t.session.Step = models.StepBrowsing
	if len(titles) == 0 {
		return []models.Reply{t.reply("Кажется, в данный момент товары только готовятся к продаже. Зайдите позже")}, nil
	}
	r := t.reply("Вот, что у нас есть сегодня:")
	r.Keyboard = catalogKeyboard(titles)
	return []models.Reply{r}, nil
}

// selectProduct handles free text while shopping: a sellable title opens the
// product card, anything else gets a corrective prompt.
func (f *CustomerFlow) selectProduct(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	titles, err := f.catalog.ListSellableTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sellable products: %w", err)
	}
	if !slices.Contains(titles, t.text) {
		r := t.reply("Не понял вас. Выберите товар из списка или воспользуйтесь кнопками ниже")
		r.Keyboard = keyboard([]string{BtnContinue}, []string{BtnViewCart})
		return []models.Reply{r}, nil
	}

	p, err := f.catalog.GetProduct(ctx, t.text)
	if errors.Is(err, models.ErrNotFound) {
		return []models.Reply{f.soldOut(t, t.text)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %q: %w", t.text, err)
	}
	if !p.IsSellable() {
		return []models.Reply{f.soldOut(t, p.Title)}, nil
	}

	t.session.SelectedItem = p.Title
	t.session.Step = models.StepSizing
	r := t.reply(productCard(p))
	r.Keyboard = quantityKeyboard(p)
	return []models.Reply{r}, nil
}

func (f *CustomerFlow) soldOut(t *customerTurn, title string) models.Reply {
	t.session.SelectedItem = ""
	t.session.Step = models.StepBrowsing
	r := t.reply(fmt.Sprintf("%s уже раскупили. Очень жаль...", title))
	r.Keyboard = oneTimeKeyboard([]string{BtnBack})
	return r
}

func (f *CustomerFlow) addQuantity(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	s := t.session
	if s.SelectedItem == "" {
		r := t.reply("Сначала выберите продукт")
		r.Keyboard = keyboard([]string{BtnContinue})
		return []models.Reply{r}, nil
	}

	p, err := f.catalog.GetProduct(ctx, s.SelectedItem)
	if errors.Is(err, models.ErrNotFound) {
		return []models.Reply{f.soldOut(t, s.SelectedItem)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %q: %w", s.SelectedItem, err)
	}
	if !p.IsSellable() {
		return []models.Reply{f.soldOut(t, p.Title)}, nil
	}

	label, _ := parseQuantityLabel(t.text)
	if label.Countable != p.Countable || !slices.Contains(quantityOptions(p), t.text) {
		r := t.reply(fmt.Sprintf("Такого количества %s нет. Выберите вариант на клавиатуре ниже", p.Title))
		r.Keyboard = quantityKeyboard(p)
		return []models.Reply{r}, nil
	}

	line := models.CartLine{Title: p.Title, Countable: p.Countable, Quantity: label.Quantity, UnitPrice: p.Price}
	s.Cart = append(s.Cart, line)
	s.SelectedItem = ""
	s.Step = models.StepBrowsing
	slog.Debug("CustomerFlow.addQuantity: line added", "chatID", t.chatID, "title", p.Title, "quantity", label.Quantity)

	r := t.reply(fmt.Sprintf("Добавили %s (%d %s) в корзину!\nХотите выбрать ещё что-нибудь?", p.Title, label.Quantity, models.QuantityUnit(p.Countable)))
	r.Keyboard = keyboard([]string{BtnContinue}, []string{BtnViewCart})
	return []models.Reply{r}, nil
}

func (f *CustomerFlow) placeOrder(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	if len(t.session.Cart) == 0 {
		return f.viewCart(ctx, t)
	}
	t.session.BeginCheckout()
	r := t.reply("Переходим к формированию заказа.\nСначала сообщите, как вас зовут.")
	r.Inline = cancelCheckoutInline()
	return []models.Reply{r}, nil
}

func (f *CustomerFlow) captureName(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	name := t.text
	t.session.OrderDraft.Name = &name
	t.session.Step = models.StepCheckoutPhone
	return []models.Reply{t.reply(fmt.Sprintf("Хорошо, %s. Теперь укажите свой номер телефона, по которому мы сможем с вами связаться", name))}, nil
}

func (f *CustomerFlow) capturePhone(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	phone := t.text
	t.session.OrderDraft.Telephone = &phone
	t.session.Step = models.StepCheckoutDelivery
	return []models.Reply{f.deliveryPrompt(t)}, nil
}

func (f *CustomerFlow) deliveryPrompt(t *customerTurn) models.Reply {
	r := t.reply("Значит, с вами свяжутся по этому номеру телефона. Вы бы хотели оформить доставку, или вы сможете забрать заказ самостоятельно?")
	r.Keyboard = keyboard([]string{BtnDelivery}, []string{BtnPickup})
	return r
}

func (f *CustomerFlow) chooseDelivery(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	return f.setPickup(t, false), nil
}

func (f *CustomerFlow) choosePickup(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	return f.setPickup(t, true), nil
}

func (f *CustomerFlow) setPickup(t *customerTurn, pickup bool) []models.Reply {
	t.session.OrderDraft.Pickup = &pickup
	t.session.Step = models.StepCheckoutConfirm
	return []models.Reply{f.receipt(t)}
}

func (f *CustomerFlow) receipt(t *customerTurn) models.Reply {
	r := t.reply(receiptText(t.session.OrderDraft))
	r.Keyboard = oneTimeKeyboard([]string{BtnConfirm}, []string{BtnEditInfo})
	return r
}

// repeatCheckoutPrompt re-sends the prompt of the current checkout step.
func (f *CustomerFlow) repeatCheckoutPrompt(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	switch t.session.Step {
	case models.StepCheckoutName:
		r := t.reply("Сначала сообщите, как вас зовут.")
		r.Inline = cancelCheckoutInline()
		return []models.Reply{r}, nil
	case models.StepCheckoutPhone:
		r := t.reply("Укажите свой номер телефона, по которому мы сможем с вами связаться")
		r.Inline = cancelCheckoutInline()
		return []models.Reply{r}, nil
	case models.StepCheckoutDelivery:
		return []models.Reply{f.deliveryPrompt(t)}, nil
	}
	return []models.Reply{f.receipt(t)}, nil
}

func (f *CustomerFlow) editInfo(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	t.session.OrderDraft.ClearContact()
	t.session.Step = models.StepCheckoutName
	r := t.reply("Сначала сообщите, как вас зовут.")
	r.Inline = cancelCheckoutInline()
	return []models.Reply{t.reply("Ой. Тогда повторим оформление заказа"), r}, nil
}

func (f *CustomerFlow) cancelCheckout(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	t.session.CancelCheckout()
	r := t.reply("Заказ отменён. Хотите очистить корзину или добавить еще что-то?")
	r.Keyboard = keyboard([]string{BtnContinue}, []string{BtnClearCart})
	return []models.Reply{r}, nil
}

// confirmOrder reserves the whole draft, then notifies the operator and resets
// the session. A short line aborts the order and keeps the cart.
func (f *CustomerFlow) confirmOrder(ctx context.Context, t *customerTurn) ([]models.Reply, error) {
	s := t.session
	draft := s.OrderDraft
	if !draft.Complete() {
		return f.repeatCheckoutPrompt(ctx, t)
	}

	order := models.NewOrder(t.chatID, draft)
	err := f.catalog.ReserveOrder(ctx, draft.Reservations())
	var short *models.InsufficientStockError
	if errors.As(err, &short) {
		slog.Info("CustomerFlow.confirmOrder: insufficient stock", "chatID", t.chatID, "title", short.Title, "requested", short.Requested, "available", short.Available)
		s.CancelCheckout()
		r := t.reply(fmt.Sprintf("К сожалению, %s осталось меньше, чем в вашем заказе. Заказ не оформлен, корзина сохранена. Очистите корзину или добавьте другие товары", short.Title))
		r.Keyboard = keyboard([]string{BtnClearCart}, []string{BtnContinue})
		return []models.Reply{r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve order: %w", err)
	}

	s.Reset()
	if err := f.notifier.NotifyOrder(ctx, order); err != nil {
		// Stock is already reserved; persist the reset so a retry cannot reserve twice.
		slog.Error("CustomerFlow.confirmOrder: notification failed", "chatID", t.chatID, "orderID", order.ID, "order", FormatOrderNotification(order), "error", err)
		if putErr := f.sessions.Put(ctx, t.chatID, s); putErr != nil {
			slog.Error("CustomerFlow.confirmOrder: session reset failed", "chatID", t.chatID, "error", putErr)
		}
		return nil, fmt.Errorf("notify order %s: %w", order.ID, err)
	}
	slog.Info("CustomerFlow.confirmOrder: order placed", "chatID", t.chatID, "orderID", order.ID, "lines", len(order.Lines), "total", order.Total)

	done := t.reply("Поздравляем!\nВаш заказ оформлен. Сохраните чек выше, чтобы не потерять заказ. Возвращаю вас в главное меню.\nУдачного дня!")
	return []models.Reply{done, f.welcome(t)}, nil
}
