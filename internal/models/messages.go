package models

import "time"

// EventKind distinguishes free text from button presses.
type EventKind string

const (
	EventText   EventKind = "text"
	EventAction EventKind = "action"
)

// Event is an inbound chat event after transport decoding.
type Event struct {
	ID         int64     `json:"id"` // transport update ID, used for de-duplication
	ChatID     int64     `json:"chat_id"`
	Kind       EventKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Action     Action    `json:"action,omitempty"`
	CallbackID string    `json:"callback_id,omitempty"`
	Time       time.Time `json:"time"`
}

// TextEvent builds a free-text event.
func TextEvent(chatID int64, text string) Event {
	return Event{ChatID: chatID, Kind: EventText, Text: text, Time: time.Now()}
}

// ActionEvent builds a button-press event.
func ActionEvent(chatID int64, action Action) Event {
	return Event{ChatID: chatID, Kind: EventAction, Action: action, Time: time.Now()}
}

// ReplyKeyboard is a row-grouped list of button labels that send their label as text.
type ReplyKeyboard struct {
	Rows    [][]string `json:"rows"`
	OneTime bool       `json:"one_time,omitempty"`
}

// Button is an inline button carrying an encoded action.
type Button struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

// InlineKeyboard is a row-grouped list of inline buttons.
type InlineKeyboard struct {
	Rows [][]Button `json:"rows"`
}

// Reply is an outbound message with at most one keyboard.
type Reply struct {
	ChatID   int64           `json:"chat_id"`
	Text     string          `json:"text"`
	Keyboard *ReplyKeyboard  `json:"keyboard,omitempty"`
	Inline   *InlineKeyboard `json:"inline,omitempty"`
}

// Buttons returns every label offered by the reply, reply keyboard first.
func (r Reply) Buttons() []string {
	var out []string
	if r.Keyboard != nil {
		for _, row := range r.Keyboard.Rows {
			out = append(out, row...)
		}
	}
	if r.Inline != nil {
		for _, row := range r.Inline.Rows {
			for _, b := range row {
				out = append(out, b.Label)
			}
		}
	}
	return out
}
