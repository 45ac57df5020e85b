// Package models defines state management structures for OrderPipe flows.
package models

// CartLine is one purchase line. Quantity is a unit count for countable goods
// and grams for bulk goods, in which case UnitPrice is per kilogram.
type CartLine struct {
	Title     string  `json:"title"`
	Countable bool    `json:"countable"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Total returns the line total rounded to kopecks.
func (l CartLine) Total() float64 {
	return LineTotal(l.Countable, l.UnitPrice, l.Quantity)
}

// OrderDraft is the checkout form. Fields are filled in order name, telephone, pickup.
type OrderDraft struct {
	Name      *string    `json:"name,omitempty"`
	Telephone *string    `json:"telephone,omitempty"`
	Pickup    *bool      `json:"pickup,omitempty"`
	Cart      []CartLine `json:"cart"`
}

// Complete reports whether the receipt can be rendered.
func (d *OrderDraft) Complete() bool {
	return d != nil && d.Name != nil && d.Telephone != nil && d.Pickup != nil
}

// ClearContact drops the contact fields but keeps the cart snapshot.
func (d *OrderDraft) ClearContact() {
	d.Name = nil
	d.Telephone = nil
	d.Pickup = nil
}

// Total returns the draft total using the same rounding as the cart view.
func (d *OrderDraft) Total() float64 {
	return CartTotal(d.Cart)
}

// Reservations converts the draft cart into stock decrements.
func (d *OrderDraft) Reservations() []Reservation {
	res := make([]Reservation, 0, len(d.Cart))
	for _, l := range d.Cart {
		res = append(res, Reservation{Title: l.Title, Quantity: l.Quantity})
	}
	return res
}

// ChatSession is the customer-side working state of a single chat.
type ChatSession struct {
	Step         Step        `json:"step"`
	SelectedItem string      `json:"selected_item,omitempty"`
	Cart         []CartLine  `json:"cart,omitempty"`
	OrderDraft   *OrderDraft `json:"order_draft,omitempty"`
}

// NewChatSession returns an empty session in the browsing step.
func NewChatSession() *ChatSession {
	return &ChatSession{Step: StepBrowsing}
}

// Reset returns the session to its initial shape.
func (s *ChatSession) Reset() {
	*s = ChatSession{Step: StepBrowsing}
}

// BeginCheckout snapshots the cart into a fresh draft. Later changes to Cart
// do not affect the draft.
func (s *ChatSession) BeginCheckout() {
	snapshot := make([]CartLine, len(s.Cart))
	copy(snapshot, s.Cart)
	s.SelectedItem = ""
	s.OrderDraft = &OrderDraft{Cart: snapshot}
	s.Step = StepCheckoutName
}

// CancelCheckout drops the draft and keeps the cart.
func (s *ChatSession) CancelCheckout() {
	s.OrderDraft = nil
	s.Step = StepCartReview
}

// EditorDraft tracks a single in-progress field edit.
type EditorDraft struct {
	Field    EditorField `json:"field"`
	Original string      `json:"original,omitempty"`
	Pending  string      `json:"pending,omitempty"`
}

// CreationDraft accumulates a new product across the wizard steps.
type CreationDraft struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Countable       bool    `json:"countable"`
	Price           float64 `json:"price"`
	QuantityInStock int     `json:"quantity_in_stock"`
}

// Product converts the finished draft into a catalog row.
func (d CreationDraft) Product() Product {
	return Product{
		Title:           d.Title,
		Description:     d.Description,
		Countable:       d.Countable,
		Price:           d.Price,
		QuantityInStock: d.QuantityInStock,
	}
}

// AdminSession is the operator-side working state.
type AdminSession struct {
	Mode     AdminMode      `json:"mode"`
	Target   string         `json:"target,omitempty"`
	Editor   *EditorDraft   `json:"editor,omitempty"`
	Creation *CreationDraft `json:"creation,omitempty"`
}

// NewAdminSession returns an idle operator session.
func NewAdminSession() *AdminSession {
	return &AdminSession{}
}

// Reset drops every draft and target.
func (s *AdminSession) Reset() {
	*s = AdminSession{}
}

// EnterCatalog switches to catalog editing with no target selected.
func (s *AdminSession) EnterCatalog() {
	*s = AdminSession{Mode: AdminModeEdit}
}

// EnterStock switches to stock editing with no target selected.
func (s *AdminSession) EnterStock() {
	*s = AdminSession{Mode: AdminModeStock}
}

// SelectTarget picks the product the current mode operates on.
func (s *AdminSession) SelectTarget(title string) {
	s.Target = title
	s.Editor = nil
}

// BeginEdit starts capturing a new value for field of the current target.
func (s *AdminSession) BeginEdit(field EditorField, original string) {
	s.Editor = &EditorDraft{Field: field, Original: original}
}

// BeginCreation starts the creation wizard at the title step.
func (s *AdminSession) BeginCreation() {
	*s = AdminSession{
		Mode:     AdminModeCreation,
		Editor:   &EditorDraft{Field: FieldTitle},
		Creation: &CreationDraft{},
	}
}

// Field returns the field being edited, or FieldNone.
func (s *AdminSession) Field() EditorField {
	if s.Editor == nil {
		return FieldNone
	}
	return s.Editor.Field
}
