package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// Customer button labels and commands.
const (
	CmdStart = "/start"
	CmdOrder = "/order"
	CmdCart  = "/cart"

	BtnRestart         = "Перезапустить бота"
	BtnClearCart       = "Очистить корзину"
	BtnViewCart        = "Перейти в корзину"
	BtnMakeOrder       = "Сделать заказ"
	BtnContinue        = "Продолжить покупки"
	BtnBack            = "< Назад"
	BtnPlaceOrder      = "Оформить заказ"
	BtnDelivery        = "Доставка"
	BtnPickup          = "Самовывоз"
	BtnConfirm         = "Да, всё правильно"
	BtnEditInfo        = "Изменить информацию"
	BtnCancelCheckout  = "Отменить оформление заказа"
	currencySign       = "₽"
	customerErrorReply = "Произошла ошибка при загрузке данных. Попробуйте позже"
)

// Operator button labels and commands.
const (
	CmdCatalog = "/catalog"
	CmdStock   = "/stock"
	CmdBack    = "/back"

	BtnCatalogBack      = "<< Назад"
	BtnCreate           = "Создать новый элемент"
	BtnRename           = "Изменить название"
	BtnEditDescription  = "Изменить описание"
	BtnEditPrice        = "Изменить цену"
	BtnToggleCountable  = "Изменить способ продажи"
	BtnDelete           = "Удалить товар"
	BtnCancelDeletion   = "Отменить удаление"
	BtnCancelCreation   = "Отменить создание товара"
	BtnNoDescription    = "Оставить без описания"
	BtnCountable        = "Поштучно"
	BtnBulk             = "На развес"
	adminErrorReply     = "Произошла ошибка. Повторите попытку"
	adminNoAccessReply  = "У вас нет доступа к администрированию в этом боте. Для заказа еды воспользуйтесь другим ботом"
	adminMenuText       = "Добро пожаловать!\n\n/catalog - Редактировать каталог товаров\n\n/stock – Управление наличием на складе"
	adminCatalogText    = "Выберите, что редактировать"
	adminCatalogEmpty   = "Каталог пока пуст"
	adminCatalogHint    = "Или создайте новый элемент по кнопке ниже"
	adminStockText      = "Выберите товар, количество которого хотите изменить"
	adminStockHint      = "Если всё в порядке, можете вернуться по кнопке ниже"
	adminNotFoundText   = "Товар не найден. Возможно, его уже удалили"
	adminSelectFirst    = "Сначала выберите товар в каталоге"
	adminCreationPrompt = "Переходим к созданию нового продукта. Укажите название"
)

// CustomerCommands and AdminCommands populate the bot command menus.
var (
	CustomerCommands = []Command{
		{Name: "start", Description: "Перезапустить бота"},
		{Name: "order", Description: "Сделать заказ"},
		{Name: "cart", Description: "Корзина"},
	}
	AdminCommands = []Command{
		{Name: "start", Description: "Перезапустить бота"},
		{Name: "catalog", Description: "Управление каталогом"},
		{Name: "stock", Description: "Изменить наличие на складе"},
	}
)

// Command is a bot menu entry.
type Command struct {
	Name        string
	Description string
}

// formatCartLine renders "Bread (2 шт.) – 100₽".
func formatCartLine(l models.CartLine) string {
	return fmt.Sprintf("%s (%d %s) – %s%s", l.Title, l.Quantity, models.QuantityUnit(l.Countable), models.FormatMoney(l.Total()), currencySign)
}

// formatCart renders the itemized list and total shared by cart view and receipt.
func formatCart(lines []models.CartLine) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(formatCartLine(l))
	}
	fmt.Fprintf(&b, "\n\nИтого: %s%s", models.FormatMoney(models.CartTotal(lines)), currencySign)
	return b.String()
}

func formatPrice(p models.Product) string {
	return fmt.Sprintf("%s%s/%s", models.FormatMoney(p.Price), currencySign, models.PriceUnit(p.Countable))
}

func productCard(p models.Product) string {
	return fmt.Sprintf("%s\n%s\n%s\n\nСколько нужно?", p.Title, p.Description, formatPrice(p))
}

func fulfillmentLabel(pickup bool) string {
	if pickup {
		return "Самовывоз"
	}
	return "С доставкой на дом"
}

func receiptText(d *models.OrderDraft) string {
	mode := "доставкой на дом"
	if *d.Pickup {
		mode = "самовывозом"
	}
	return fmt.Sprintf("Отлично! Значит, ваш заказ будет с %s. Проверьте ваш заказ. Если всё хорошо, я отправлю его на выполнение:\n"+
		"-----------\n%s\n------------\nИмя: %s\nТелефон: %s\n%s\nВсё правильно?",
		mode, formatCart(d.Cart), *d.Name, *d.Telephone, fulfillmentLabel(*d.Pickup))
}

// FormatOrderNotification renders the operator notification for a placed order.
// Lines and total use the same formatter as the customer receipt.
func FormatOrderNotification(o models.Order) string {
	var b strings.Builder
	b.WriteString("❕ Новый заказ\n")
	fmt.Fprintf(&b, "Заказчик(-ца): %s\n", o.Name)
	fmt.Fprintf(&b, "Номер телефона: %s\n", o.Telephone)
	if o.Pickup {
		b.WriteString("Самовывоз\n")
	} else {
		b.WriteString("Доставка\n")
	}
	b.WriteString("Заказ:\n")
	b.WriteString(formatCart(o.Lines))
	return b.String()
}

// formatStockEntry renders an operator stock button label.
func formatStockEntry(e models.StockEntry) string {
	var qty string
	switch {
	case e.Countable:
		qty = fmt.Sprintf("%d %s", e.QuantityInStock, models.UnitPieces)
	case e.QuantityInStock >= 1000:
		qty = fmt.Sprintf("%s %s", models.FormatMoney(float64(e.QuantityInStock)/1000), models.UnitKilo)
	default:
		qty = fmt.Sprintf("%d г", e.QuantityInStock)
	}
	switch {
	case e.IsEmpty():
		qty += " (❗️ не осталось)"
	case e.IsLow():
		qty += " (❕ недостаточно)"
	}
	return e.Title + " – " + qty
}

func adminCard(p models.Product) string {
	mode := BtnBulk
	if p.Countable {
		mode = BtnCountable
	}
	return fmt.Sprintf("Название: %s\n\nОписание: %s\n\n%s\n\n%s", p.Title, p.Description, mode, formatPrice(p))
}
