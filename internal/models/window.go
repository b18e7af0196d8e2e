package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	VisibilityLive    = "live"
	VisibilityDeleted = "deleted"
)

const (
	CategoryStandard = "standard"
	CategoryPriority = "priority"
)

type Branch struct {
	BranchID   string `json:"branch_id" yaml:"branch_id"`
	Name       string `json:"name" yaml:"name"`
	Visibility string `json:"visibility" yaml:"visibility"`
}

type ServiceWindow struct {
	WindowID     string `json:"window_id" yaml:"window_id"`
	BranchID     string `json:"branch_id" yaml:"branch_id"`
	Label        string `json:"label" yaml:"label"`
	Number       int    `json:"number" yaml:"number"`
	Active       bool   `json:"active" yaml:"active"`
	LastSequence int64  `json:"last_sequence" yaml:"last_sequence"`
	Visibility   string `json:"visibility" yaml:"visibility"`
}

type Category struct {
	CategoryID string `json:"category_id" yaml:"category_id"`
	Name       string `json:"name" yaml:"name"`
	Class      string `json:"class" yaml:"class"`
	Visibility string `json:"visibility" yaml:"visibility"`
}

// Live treats an empty visibility as live so seed data can omit it.
func (b Branch) Live() bool {
	return b.Visibility == "" || b.Visibility == VisibilityLive
}

func (w ServiceWindow) Live() bool {
	return w.Visibility == "" || w.Visibility == VisibilityLive
}

func (c Category) Live() bool {
	return c.Visibility == "" || c.Visibility == VisibilityLive
}

// TicketPrefix is the upper-cased first letter of the label, or W{number}
// for an unlabeled window.
func (w ServiceWindow) TicketPrefix() string {
	label := strings.TrimSpace(w.Label)
	if label == "" {
		return fmt.Sprintf("W%d", w.Number)
	}
	first, _ := utf8.DecodeRuneInString(label)
	return strings.ToUpper(string(first))
}
