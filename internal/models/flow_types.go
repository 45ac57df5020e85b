// Package models defines flow type definitions to avoid circular imports.
package models

// Step is the explicit conversational state of a customer session.
type Step string

// AdminMode is the active sub-flow of an operator session.
type AdminMode string

// EditorField is the catalog field an operator edit is targeting.
type EditorField string

// Customer steps.
const (
	StepBrowsing         Step = "BROWSING"
	StepSizing           Step = "SIZING"
	StepCartReview       Step = "CART_REVIEW"
	StepCheckoutName     Step = "CHECKOUT_NAME"
	StepCheckoutPhone    Step = "CHECKOUT_PHONE"
	StepCheckoutDelivery Step = "CHECKOUT_DELIVERY"
	StepCheckoutConfirm  Step = "CHECKOUT_CONFIRM"
)

// InCheckout reports whether an order draft is pending for the step.
func (s Step) InCheckout() bool {
	switch s {
	case StepCheckoutName, StepCheckoutPhone, StepCheckoutDelivery, StepCheckoutConfirm:
		return true
	}
	return false
}

// Operator modes. Only one is active at a time.
const (
	AdminModeNone     AdminMode = ""
	AdminModeEdit     AdminMode = "CATALOG_EDIT"
	AdminModeStock    AdminMode = "STOCK_EDIT"
	AdminModeCreation AdminMode = "CREATION"
)

// Editor fields. In creation mode the field names the wizard step.
const (
	FieldNone         EditorField = ""
	FieldTitle        EditorField = "title"
	FieldDescription  EditorField = "description"
	FieldPrice        EditorField = "price"
	FieldCountability EditorField = "countability"
	FieldAvailability EditorField = "availability"
	FieldDeletion     EditorField = "deletion"
)
