package domain

import (
	"strings"
	"time"
)

type GoalStatus string

const (
	GoalStatusPending GoalStatus = "pending"
)

// SuggestedCategories is the open set of categories offered to the user.
// Category is never validated against it.
var SuggestedCategories = []string{
	"ahorro",
	"inversión",
	"deuda",
	"vivienda",
	"educación",
	"retiro",
	"negocio",
	"viaje",
	"auto",
	"salud",
}

// Goal is a structured financial objective promoted from a conversation.
type Goal struct {
	ID           string     `json:"id,omitempty"`
	Name         string     `json:"name"`
	TargetAmount float64    `json:"target_amount"`
	Timeframe    string     `json:"timeframe"`
	Description  string     `json:"description"`
	Category     string     `json:"category,omitempty"`
	Status       GoalStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
}

// ApplyDefaults fills the fields the extraction payload may omit.
func (g *Goal) ApplyDefaults(now time.Time) {
	if g.Status == "" {
		g.Status = GoalStatusPending
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now.UTC()
	}
}

// GoalFilter narrows a goal listing. Empty fields do not filter.
type GoalFilter struct {
	Category string
	Status   string
	Search   string
}

// Matches reports whether g satisfies the filter. Search is a
// case-insensitive substring match over name and description.
func (f GoalFilter) Matches(g Goal) bool {
	if f.Category != "" && g.Category != f.Category {
		return false
	}
	if f.Status != "" && string(g.Status) != f.Status {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(g.Name), q) && !strings.Contains(strings.ToLower(g.Description), q) {
			return false
		}
	}
	return true
}

// Page selects a 1-based, offset-paginated window.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of items to skip.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Window returns the [start, end) bounds of the page within total items.
func (p Page) Window(total int) (int, int) {
	start := p.Offset()
	if start > total {
		start = total
	}
	end := total
	if p.Size > 0 && start+p.Size < total {
		end = start + p.Size
	}
	return start, end
}
