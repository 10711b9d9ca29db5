package models

import (
	"fmt"
	"strings"
)

const (
	EventClick          = "click"
	EventInput          = "input"
	EventKeypress       = "keypress"
	EventNavigate       = "navigate"
	EventFocus          = "focus"
	EventSetCredentials = "setCredentials"
)

// RecordedEvent is one captured or replayable interaction. The JSON layout is
// the on-disk macro format.
type RecordedEvent struct {
	Type        string `json:"type"`
	Selector    string `json:"selector,omitempty"`
	Value       string `json:"value,omitempty"`
	URL         string `json:"url,omitempty"`
	Key         string `json:"key,omitempty"`
	Text        string `json:"text,omitempty"`
	Tag         string `json:"tag,omitempty"`
	ElementType string `json:"elementType,omitempty"`
	AriaLabel   string `json:"ariaLabel,omitempty"`
	Title       string `json:"title,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Timestamp   int64  `json:"timestamp"`

	UsernameSelector string `json:"usernameSelector,omitempty"`
	PasswordSelector string `json:"passwordSelector,omitempty"`
}

// Describe renders the event as a short status line for the operator.
func (e RecordedEvent) Describe() string {
	kind := strings.ToUpper(e.Type)
	if e.Type == EventInput && e.Value != "" {
		return fmt.Sprintf("%s: %q", kind, e.Value)
	}
	switch {
	case e.Type == EventNavigate:
		return fmt.Sprintf("%s: %s", kind, e.URL)
	case e.Text != "":
		return fmt.Sprintf("%s: %s", kind, e.Text)
	case e.AriaLabel != "":
		return fmt.Sprintf("%s: %s", kind, e.AriaLabel)
	default:
		return fmt.Sprintf("%s: %s", kind, e.Selector)
	}
}
