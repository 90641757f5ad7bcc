package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"goal-agent/internal/domain"
)

var errNoGoalFields = errors.New("extractor: payload has no goal fields")

// payload mirrors the object the system prompt asks the model to emit.
// Every field is optional here; defaults are applied when the goal is
// promoted.
type payload struct {
	Name        *text   `json:"nombre"`
	Amount      *amount `json:"valor"`
	Timeframe   *text   `json:"tiempo"`
	Description *text   `json:"descripcion"`
	Category    *text   `json:"categoria"`
	CreatedAt   *text   `json:"fecha_creacion"`
	Status      *text   `json:"estado"`
}

func (p payload) empty() bool {
	return p.Name == nil && p.Amount == nil && p.Timeframe == nil &&
		p.Description == nil && p.Category == nil && p.CreatedAt == nil && p.Status == nil
}

func parsePayload(candidate string) (*domain.Goal, error) {
	var p payload
	if err := json.Unmarshal([]byte(candidate), &p); err != nil {
		return nil, fmt.Errorf("extractor: decode payload: %w", err)
	}
	if p.empty() {
		return nil, errNoGoalFields
	}

	g := &domain.Goal{
		Name:        p.Name.value(),
		Timeframe:   p.Timeframe.value(),
		Description: p.Description.value(),
		Category:    p.Category.value(),
		Status:      normalizeStatus(p.Status.value()),
		CreatedAt:   parseCreatedAt(p.CreatedAt.value()),
	}
	if p.Amount != nil {
		g.TargetAmount = float64(*p.Amount)
	}
	return g, nil
}

// text accepts a JSON string or number. Models occasionally write
// "tiempo": 6 instead of "6 meses".
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string, got %s", b)
	}
	*t = text(n.String())
	return nil
}

func (t *text) value() string {
	if t == nil {
		return ""
	}
	return string(*t)
}

// amount accepts a JSON number or a numeric string such as "1500" or "$1500.50".
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(strings.TrimSpace(s), "$")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("amount %q is not numeric", s)
		}
		*a = amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("expected number, got %s", b)
	}
	*a = amount(f)
	return nil
}

func normalizeStatus(s string) domain.GoalStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ""
	case "pendiente":
		return domain.GoalStatusPending
	default:
		return domain.GoalStatus(s)
	}
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseCreatedAt returns the zero time for empty or unrecognised values so
// the caller falls back to the extraction time.
func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
