package models

import (
	"fmt"
	"strings"
)

// ActionKind enumerates the callback actions carried by inline buttons.
type ActionKind string

const (
	ActionCancelCheckout ActionKind = "cancel"
	ActionEdit           ActionKind = "edit"
	ActionCancelDeletion ActionKind = "cancel-deletion"
	ActionCancelCreation ActionKind = "cancel-creation"
	ActionChangeQuantity ActionKind = "change-quantity"
	ActionNoDescription  ActionKind = "no-description"
)

// Action is a decoded button payload. Title is set for edit and change-quantity.
type Action struct {
	Kind  ActionKind `json:"kind,omitempty"`
	Title string     `json:"title,omitempty"`
}

// Wire payloads. Edit and change-quantity carry the title after a space.
const (
	payloadCancel         = "/cancel"
	payloadCancelDeletion = "/cancel deletion"
	payloadCancelCreation = "/cancel creation"
	payloadEdit           = "/edit"
	payloadChangeQuantity = "/change-quantity"
	payloadNoDescription  = "no-description"
)

// Encode renders the action as a callback payload.
func (a Action) Encode() string {
	switch a.Kind {
	case ActionCancelCheckout:
		return payloadCancel
	case ActionCancelDeletion:
		return payloadCancelDeletion
	case ActionCancelCreation:
		return payloadCancelCreation
	case ActionNoDescription:
		return payloadNoDescription
	case ActionEdit:
		return payloadEdit + " " + a.Title
	case ActionChangeQuantity:
		return payloadChangeQuantity + " " + a.Title
	}
	return ""
}

// ParseAction decodes a callback payload. Titles may contain spaces.
func ParseAction(payload string) (Action, error) {
	switch payload {
	case payloadCancel:
		return Action{Kind: ActionCancelCheckout}, nil
	case payloadCancelDeletion:
		return Action{Kind: ActionCancelDeletion}, nil
	case payloadCancelCreation:
		return Action{Kind: ActionCancelCreation}, nil
	case payloadNoDescription:
		return Action{Kind: ActionNoDescription}, nil
	}

	parts := strings.SplitN(payload, " ", 2)
	if len(parts) == 2 && parts[1] != "" {
		switch parts[0] {
		case payloadEdit:
			return Action{Kind: ActionEdit, Title: parts[1]}, nil
		case payloadChangeQuantity:
			return Action{Kind: ActionChangeQuantity, Title: parts[1]}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, payload)
}
