package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
	"github.com/BTreeMap/OrderPipe/internal/store"
)

// adminInput is the category an inbound operator event is classified into.
type adminInput int

const (
	adMenu adminInput = iota
	adCatalog
	adStock
	adCreate
	adRename
	adEditDescription
	adEditPrice
	adToggleCountable
	adDelete
	adSelectProduct
	adSelectStock
	adCancelDeletion
	adCancelCreation
	adNoDescription
	adText
)

var adminPhrases = map[string]adminInput{
	CmdStart:           adMenu,
	CmdBack:            adMenu,
	BtnBack:            adMenu,
	BtnRestart:         adMenu,
	CmdCatalog:         adCatalog,
	BtnCatalogBack:     adCatalog,
	CmdStock:           adStock,
	BtnCreate:          adCreate,
	BtnRename:          adRename,
	BtnEditDescription: adEditDescription,
	BtnEditPrice:       adEditPrice,
	BtnToggleCountable: adToggleCountable,
	BtnDelete:          adDelete,
}

var adminActions = map[models.ActionKind]adminInput{
	models.ActionEdit:           adSelectProduct,
	models.ActionChangeQuantity: adSelectStock,
	models.ActionCancelDeletion: adCancelDeletion,
	models.ActionCancelCreation: adCancelCreation,
	models.ActionNoDescription:  adNoDescription,
}

func classifyAdmin(ev models.Event) adminInput {
	if ev.Kind == models.EventAction {
		if in, ok := adminActions[ev.Action.Kind]; ok {
			return in
		}
		return adText
	}
	if in, ok := adminPhrases[ev.Text]; ok {
		return in
	}
	return adText
}

type adminTurn struct {
	chatID  int64
	text    string
	action  models.Action
	session *models.AdminSession
}

func (t *adminTurn) reply(text string) models.Reply {
	return models.Reply{ChatID: t.chatID, Text: text}
}

type adminHandler func(f *AdminFlow, ctx context.Context, t *adminTurn) ([]models.Reply, error)

// adminState keys the transition table on the active mode and edited field.
type adminState struct {
	mode  models.AdminMode
	field models.EditorField
}

// adminCommands apply in every state.
var adminCommands = map[adminInput]adminHandler{
	adMenu:           (*AdminFlow).menu,
	adCatalog:        (*AdminFlow).catalogList,
	adStock:          (*AdminFlow).stockList,
	adCreate:         (*AdminFlow).beginCreation,
	adSelectProduct:  (*AdminFlow).selectProduct,
	adSelectStock:    (*AdminFlow).selectStock,
	adCancelCreation: (*AdminFlow).cancelCreation,
}

var adminTransitions = buildAdminTransitions()

func buildAdminTransitions() map[adminState]map[adminInput]adminHandler {
	editMenu := func(text adminHandler) map[adminInput]adminHandler {
		m := map[adminInput]adminHandler{
			adRename:          (*AdminFlow).beginRename,
			adEditDescription: (*AdminFlow).beginDescription,
			adEditPrice:       (*AdminFlow).beginPrice,
			adToggleCountable: (*AdminFlow).toggleCountable,
			adDelete:          (*AdminFlow).beginDeletion,
			adCancelDeletion:  (*AdminFlow).cancelDeletion,
		}
		if text != nil {
			m[adText] = text
		}
		return m
	}
	only := func(in adminInput, h adminHandler) map[adminInput]adminHandler {
		return map[adminInput]adminHandler{in: h}
	}

	creationDescription := only(adText, (*AdminFlow).creationDescription)
	creationDescription[adNoDescription] = (*AdminFlow).creationNoDescription

	return map[adminState]map[adminInput]adminHandler{
		{models.AdminModeEdit, models.FieldNone}:        editMenu(nil),
		{models.AdminModeEdit, models.FieldTitle}:       editMenu((*AdminFlow).applyRename),
		{models.AdminModeEdit, models.FieldDescription}: editMenu((*AdminFlow).applyDescription),
		{models.AdminModeEdit, models.FieldPrice}:       editMenu((*AdminFlow).applyPrice),
		{models.AdminModeEdit, models.FieldDeletion}:    editMenu((*AdminFlow).confirmDeletion),

		{models.AdminModeStock, models.FieldAvailability}: only(adText, (*AdminFlow).applyQuantity),

		{models.AdminModeCreation, models.FieldTitle}:        only(adText, (*AdminFlow).creationTitle),
		{models.AdminModeCreation, models.FieldDescription}:  creationDescription,
		{models.AdminModeCreation, models.FieldCountability}: only(adText, (*AdminFlow).creationCountability),
		{models.AdminModeCreation, models.FieldPrice}:        only(adText, (*AdminFlow).creationPrice),
		{models.AdminModeCreation, models.FieldAvailability}: only(adText, (*AdminFlow).creationQuantity),
	}
}

func routeAdmin(s *models.AdminSession, in adminInput) adminHandler {
	if h, ok := adminCommands[in]; ok {
		return h
	}
	if h, ok := adminTransitions[adminState{s.Mode, s.Field()}][in]; ok {
		return h
	}
	return (*AdminFlow).unknown
}

// AdminFlow is the operator catalog and stock state machine. Only adminID may use it.
type AdminFlow struct {
	catalog  store.Catalog
	sessions SessionStore[models.AdminSession]
	adminID  int64
}

// Compile-time check that AdminFlow implements Engine.
var _ Engine = (*AdminFlow)(nil)

// NewAdminFlow creates the operator engine for the single authorized chat.
func NewAdminFlow(catalog store.Catalog, sessions SessionStore[models.AdminSession], adminID int64) *AdminFlow {
	return &AdminFlow{catalog: catalog, sessions: sessions, adminID: adminID}
}

// Handle answers unauthorized chats with a fixed refusal and routes operator
// events through the transition table.
func (f *AdminFlow) Handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	if ev.ChatID != f.adminID {
		slog.Warn("AdminFlow.Handle: unauthorized chat", "chatID", ev.ChatID)
		return []models.Reply{{ChatID: ev.ChatID, Text: adminNoAccessReply}}, nil
	}

	session, err := f.sessions.Get(ctx, ev.ChatID)
	if err != nil {
		return nil, err
	}
	in := classifyAdmin(ev)
	slog.Debug("AdminFlow.Handle", "chatID", ev.ChatID, "mode", session.Mode, "field", session.Field(), "input", in)

	t := &adminTurn{chatID: ev.ChatID, text: ev.Text, action: ev.Action, session: session}
	replies, err := routeAdmin(session, in)(f, ctx, t)
	if err != nil {
		return nil, err
	}
	if err := f.sessions.Put(ctx, ev.ChatID, session); err != nil {
		return nil, err
	}
	return replies, nil
}

func (f *AdminFlow) FailureReply(chatID int64) models.Reply {
	return models.Reply{ChatID: chatID, Text: adminErrorReply, Keyboard: oneTimeKeyboard([]string{BtnRestart})}
}

func (f *AdminFlow) menu(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	t.session.Reset()
	return []models.Reply{t.reply(adminMenuText)}, nil
}

func (f *AdminFlow) unknown(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	return []models.Reply{t.reply(adminMenuText)}, nil
}

// catalogList enters catalog mode and lists every product as an edit button.
func (f *AdminFlow) catalogList(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	titles, err := f.catalog.ListTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	t.session.EnterCatalog()

	list := t.reply(adminCatalogText)
	if len(titles) == 0 {
		list.Text = adminCatalogEmpty
	} else {
		list.Inline = editInline(titles)
	}
	hint := t.reply(adminCatalogHint)
	hint.Keyboard = oneTimeKeyboard([]string{BtnBack}, []string{BtnCreate})
	return []models.Reply{list, hint}, nil
}

// withCatalog prefixes a confirmation to the catalog list.
func (f *AdminFlow) withCatalog(ctx context.Context, t *adminTurn, text string) ([]models.Reply, error) {
	replies, err := f.catalogList(ctx, t)
	if err != nil {
		return nil, err
	}
	return append([]models.Reply{t.reply(text)}, replies...), nil
}

func (f *AdminFlow) stockList(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	entries, err := f.catalog.ListStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	t.session.EnterStock()

	list := t.reply(adminStockText)
	if len(entries) == 0 {
		list.Text = adminCatalogEmpty
	} else {
		list.Inline = stockInline(entries)
	}
	hint := t.reply(adminStockHint)
	hint.Keyboard = oneTimeKeyboard([]string{BtnBack})
	return []models.Reply{list, hint}, nil
}

// product loads a product, mapping a vanished title to a not-found notice and the catalog.
func (f *AdminFlow) product(ctx context.Context, t *adminTurn, title string) (models.Product, []models.Reply, error) {
	p, err := f.catalog.GetProduct(ctx, title)
	if errors.Is(err, models.ErrNotFound) {
		replies, err := f.withCatalog(ctx, t, adminNotFoundText)
		return models.Product{}, replies, err
	}
	if err != nil {
		return models.Product{}, nil, fmt.Errorf("get product %q: %w", title, err)
	}
	return p, nil, nil
}

func (f *AdminFlow) showCard(ctx context.Context, t *adminTurn, title string) ([]models.Reply, error) {
	p, fallback, err := f.product(ctx, t, title)
	if err != nil || fallback != nil {
		return fallback, err
	}
	t.session.EnterCatalog()
	t.session.SelectTarget(p.Title)
	r := t.reply(adminCard(p))
	r.Keyboard = editMenuKeyboard()
	return []models.Reply{r}, nil
}

func (f *AdminFlow) selectProduct(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	return f.showCard(ctx, t, t.action.Title)
}

func (f *AdminFlow) selectStock(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	p, fallback, err := f.product(ctx, t, t.action.Title)
	if err != nil || fallback != nil {
		return fallback, err
	}
	t.session.EnterStock()
	t.session.SelectTarget(p.Title)
	t.session.BeginEdit(models.FieldAvailability, strconv.Itoa(p.QuantityInStock))

	unit, example := "граммах", "1200"
	if p.Countable {
		unit, example = "штуках", "8"
	}
	return []models.Reply{t.reply(fmt.Sprintf("Укажите новое количество товара %s в %s. Напишите только число.\nПример: %s", p.Title, unit, example))}, nil
}

func (f *AdminFlow) applyQuantity(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	qty, ok := parseQuantity(t.text)
	if !ok {
		return []models.Reply{t.reply("Количество должно быть целым неотрицательным числом. Попробуйте ещё раз")}, nil
	}
	title := t.session.Target
	err := f.catalog.SetQuantity(ctx, title, qty)
	if errors.Is(err, models.ErrNotFound) {
		return f.withCatalog(ctx, t, adminNotFoundText)
	}
	if err != nil {
		return nil, fmt.Errorf("set quantity of %q: %w", title, err)
	}
	slog.Info("AdminFlow.applyQuantity: stock updated", "title", title, "quantity", qty)

	replies, err := f.stockList(ctx, t)
	if err != nil {
		return nil, err
	}
	return append([]models.Reply{t.reply(fmt.Sprintf("Количество товара %s изменено!", title))}, replies...), nil
}

// requireTarget guards edit-menu actions that need a selected product.
func (f *AdminFlow) requireTarget(t *adminTurn) []models.Reply {
	if t.session.Target != "" {
		return nil
	}
	return []models.Reply{t.reply(adminSelectFirst)}
}

func (f *AdminFlow) beginRename(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	t.session.BeginEdit(models.FieldTitle, t.session.Target)
	return []models.Reply{t.reply(fmt.Sprintf("Введите новое название, вместо \"%s\"", t.session.Target))}, nil
}

func (f *AdminFlow) beginDescription(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	p, fallback, err := f.product(ctx, t, t.session.Target)
	if err != nil || fallback != nil {
		return fallback, err
	}
	t.session.BeginEdit(models.FieldDescription, p.Description)
	return []models.Reply{t.reply(fmt.Sprintf("Введите новое описание для продукта \"%s\"", p.Title))}, nil
}

func (f *AdminFlow) beginPrice(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	p, fallback, err := f.product(ctx, t, t.session.Target)
	if err != nil || fallback != nil {
		return fallback, err
	}
	t.session.BeginEdit(models.FieldPrice, models.FormatMoney(p.Price))
	return []models.Reply{t.reply(fmt.Sprintf("Введите новую цену для продукта \"%s\" за %s. Введите только число!\nПример: 2000", p.Title, models.PriceUnit(p.Countable)))}, nil
}

func (f *AdminFlow) toggleCountable(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	title := t.session.Target
	err := f.catalog.ToggleCountable(ctx, title)
	if errors.Is(err, models.ErrNotFound) {
		return f.withCatalog(ctx, t, adminNotFoundText)
	}
	if err != nil {
		return nil, fmt.Errorf("toggle countable of %q: %w", title, err)
	}
	slog.Info("AdminFlow.toggleCountable", "title", title)
	replies, err := f.showCard(ctx, t, title)
	if err != nil {
		return nil, err
	}
	return append([]models.Reply{t.reply(fmt.Sprintf("Способ продажи товара %s изменён", title))}, replies...), nil
}

func (f *AdminFlow) beginDeletion(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	t.session.BeginEdit(models.FieldDeletion, t.session.Target)
	r := t.reply(fmt.Sprintf("Если вы действительно хотите удалить товар \"%s\", то напишите его название в ответ на это сообщение, чтобы подтвердить действие", t.session.Target))
	r.Inline = inline([]models.Button{button(BtnCancelDeletion, models.Action{Kind: models.ActionCancelDeletion})})
	return []models.Reply{r}, nil
}

func (f *AdminFlow) cancelDeletion(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	if r := f.requireTarget(t); r != nil {
		return r, nil
	}
	replies, err := f.showCard(ctx, t, t.session.Target)
	if err != nil {
		return nil, err
	}
	return append([]models.Reply{t.reply("Хорошо. Удаление отменено. Возвращаю вас к товару")}, replies...), nil
}

func (f *AdminFlow) confirmDeletion(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	title := t.session.Target
	if t.text != title {
		return []models.Reply{t.reply(fmt.Sprintf("Ваше сообщение не соответствует названию товара \"%s\". Попробуйте ещё раз", title))}, nil
	}
	err := f.catalog.DeleteProduct(ctx, title)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("delete %q: %w", title, err)
	}
	slog.Info("AdminFlow.confirmDeletion: product deleted", "title", title)
	return f.withCatalog(ctx, t, "Товар успешно удалён. Возвращаю вас в каталог")
}

func (f *AdminFlow) applyRename(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	title, newTitle := t.session.Target, strings.TrimSpace(t.text)
	err := f.catalog.RenameProduct(ctx, title, newTitle)
	switch {
	case errors.Is(err, models.ErrDuplicateTitle):
		return []models.Reply{t.reply(duplicateTitleText)}, nil
	case errors.Is(err, models.ErrTitleTooLong), errors.Is(err, models.ErrEmptyTitle):
		return []models.Reply{t.reply(invalidTitleText)}, nil
	case errors.Is(err, models.ErrNotFound):
		return f.withCatalog(ctx, t, adminNotFoundText)
	case err != nil:
		return nil, fmt.Errorf("rename %q: %w", title, err)
	}
	slog.Info("AdminFlow.applyRename", "title", title, "newTitle", newTitle)
	return f.withCatalog(ctx, t, fmt.Sprintf("Название продукта \"%s\" изменено на \"%s\". Возвращаю вас в каталог", title, newTitle))
}

func (f *AdminFlow) applyDescription(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	title := t.session.Target
	err := f.catalog.UpdateDescription(ctx, title, t.text)
	if errors.Is(err, models.ErrNotFound) {
		return f.withCatalog(ctx, t, adminNotFoundText)
	}
	if err != nil {
		return nil, fmt.Errorf("update description of %q: %w", title, err)
	}
	return f.withCatalog(ctx, t, fmt.Sprintf("Изменили описание продукта %s. Возвращаю вас в каталог", title))
}

func (f *AdminFlow) applyPrice(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	price, ok := parsePrice(t.text)
	if !ok {
		return []models.Reply{t.reply(invalidPriceText)}, nil
	}
	title := t.session.Target
	err := f.catalog.UpdatePrice(ctx, title, price)
	if errors.Is(err, models.ErrNotFound) {
		return f.withCatalog(ctx, t, adminNotFoundText)
	}
	if err != nil {
		return nil, fmt.Errorf("update price of %q: %w", title, err)
	}
	return f.withCatalog(ctx, t, fmt.Sprintf("Изменили цену продукта %s. Возвращаю вас в каталог", title))
}

func (f *AdminFlow) beginCreation(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	t.session.BeginCreation()
	r := t.reply(adminCreationPrompt)
	r.Inline = inline([]models.Button{button(BtnCancelCreation, models.Action{Kind: models.ActionCancelCreation})})
	return []models.Reply{r}, nil
}

func (f *AdminFlow) cancelCreation(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	return f.withCatalog(ctx, t, "Создание отменено. Возвращаю вас в каталог")
}

func (f *AdminFlow) creationTitle(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	title := strings.TrimSpace(t.text)
	if err := models.ValidateTitle(title); err != nil {
		return []models.Reply{t.reply(invalidTitleText)}, nil
	}
	titles, err := f.catalog.ListTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	for _, existing := range titles {
		if existing == title {
			return []models.Reply{t.reply(duplicateTitleText)}, nil
		}
	}

	t.session.Creation.Title = title
	t.session.Editor.Field = models.FieldDescription
	r := t.reply("Отлично! Переходим к описанию товара. Напишите его в следующем сообщении")
	r.Inline = inline([]models.Button{button(BtnNoDescription, models.Action{Kind: models.ActionNoDescription})})
	return []models.Reply{r}, nil
}

func (f *AdminFlow) creationDescription(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	t.session.Creation.Description = t.text
	return []models.Reply{f.countabilityPrompt(t)}, nil
}

func (f *AdminFlow) creationNoDescription(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	t.session.Creation.Description = ""
	notice := t.reply(fmt.Sprintf("Хорошо, %s будет без описания", t.session.Creation.Title))
	return []models.Reply{notice, f.countabilityPrompt(t)}, nil
}

func (f *AdminFlow) countabilityPrompt(t *adminTurn) models.Reply {
	t.session.Editor.Field = models.FieldCountability
	r := t.reply(fmt.Sprintf("Будет ли %s продаваться поштучно или на развес?", t.session.Creation.Title))
	r.Keyboard = oneTimeKeyboard([]string{BtnCountable}, []string{BtnBulk})
	return r
}

func (f *AdminFlow) creationCountability(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	var countable bool
	switch t.text {
	case BtnCountable:
		countable = true
	case BtnBulk:
		countable = false
	default:
		r := t.reply("Выберите один из вариантов на клавиатуре ниже")
		r.Keyboard = oneTimeKeyboard([]string{BtnCountable}, []string{BtnBulk})
		return []models.Reply{r}, nil
	}
	c := t.session.Creation
	c.Countable = countable
	t.session.Editor.Field = models.FieldPrice

	mode, per := "на развес", "килограмм"
	if countable {
		mode, per = "поштучно", "штуку"
	}
	return []models.Reply{t.reply(fmt.Sprintf("Хорошо, %s будет продаваться %s. Теперь укажите цену за %s. Напишите только число.\nПример: 800", c.Title, mode, per))}, nil
}

func (f *AdminFlow) creationPrice(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	price, ok := parsePrice(t.text)
	if !ok {
		return []models.Reply{t.reply(invalidPriceText)}, nil
	}
	c := t.session.Creation
	c.Price = price
	t.session.Editor.Field = models.FieldAvailability

	unit, example := "граммов", "2500"
	if c.Countable {
		unit, example = "штук", "5"
	}
	return []models.Reply{t.reply(fmt.Sprintf("Теперь укажите, сколько %s товара у вас есть в наличии. Напишите только число.\nПример: %s\n(вы сможете изменить это позже)", unit, example))}, nil
}

// creationQuantity finishes the wizard with a single create call.
func (f *AdminFlow) creationQuantity(ctx context.Context, t *adminTurn) ([]models.Reply, error) {
	qty, ok := parseQuantity(t.text)
	if !ok {
		return []models.Reply{t.reply("Количество должно быть целым неотрицательным числом. Попробуйте ещё раз")}, nil
	}
	c := t.session.Creation
	c.QuantityInStock = qty
	p := c.Product()

	err := f.catalog.CreateProduct(ctx, p)
	if errors.Is(err, models.ErrDuplicateTitle) {
		t.session.Editor.Field = models.FieldTitle
		return []models.Reply{t.reply(duplicateTitleText)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create product %q: %w", p.Title, err)
	}
	slog.Info("AdminFlow.creationQuantity: product created", "title", p.Title)

	card := fmt.Sprintf("Отлично! Вот новая карточка товара:\n------------\n%s\n\n%s\n\n%s\n-----------\nВозвращаю вас в каталог", p.Title, p.Description, formatPrice(p))
	return f.withCatalog(ctx, t, card)
}

const (
	duplicateTitleText = "Продукт с таким названием уже существует, пожалуйста, назовите продукт по-другому или укажите больше деталей в названии."
	invalidTitleText   = "Название не может быть пустым и должно быть не длиннее 47 байт. Попробуйте ещё раз"
	invalidPriceText   = "Цена должна быть неотрицательным числом. Попробуйте ещё раз\nПример: 2000"
)

func parsePrice(text string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(text), ",", "."), 64)
	if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return models.RoundMoney(v), true
}

func parseQuantity(text string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
