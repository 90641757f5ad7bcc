// Package extractor pulls the structured goal payload out of an assistant
// reply. The model is told to emit Marker followed by a JSON object once the
// user confirms a goal, but its output drifts: fenced blocks, prose between
// marker and object, nested or truncated objects. Extract tolerates all of
// these and never fails the turn.
package extractor

import (
	"regexp"
	"strings"

	"goal-agent/internal/domain"
)

// Marker is the sentinel the system prompt asks the model to place in front
// of the goal payload.
const Marker = "META_FINANCIERA_JSON:"

const fence = "```"

// Rule is one named recognition pattern. The first capture group must hold
// the candidate object.
type Rule struct {
	Name    string
	pattern *regexp.Regexp
}

// NewRule compiles a rule. It panics on an invalid pattern, like
// regexp.MustCompile.
func NewRule(name, pattern string) Rule {
	return Rule{Name: name, pattern: regexp.MustCompile(pattern)}
}

// Rules is the recognition ladder, most specific first. Later rules only
// matter when the earlier ones miss.
var Rules = []Rule{
	NewRule("fenced", `(?s)`+regexp.QuoteMeta(Marker)+`\s*`+fence+`(?:json|JSON)?\s*(\{.*?\})\s*`+fence),
	NewRule("inline", `(?s)`+regexp.QuoteMeta(Marker)+`\s*(\{.*?\})`),
	NewRule("trailing", `(?s)`+regexp.QuoteMeta(Marker)+`.*?(\{.*?\})`),
	NewRule("flat", `(?s)`+regexp.QuoteMeta(Marker)+`.*?(\{[^}]*\})`),
}

// Result is the outcome of Extract. Goal is nil unless a payload was found
// and parsed; Rule names the rule that matched, even when parsing failed.
type Result struct {
	Display  string
	Goal     *domain.Goal
	Rule     string
	ParseErr error
}

// Complete reports whether a goal was extracted.
func (r Result) Complete() bool {
	return r.Goal != nil
}

// span locates a rule match inside the raw text.
type span struct {
	rule       string
	start, end int
	capStart   int
	capEnd     int
}

func (r Rule) find(raw string) (span, bool) {
	loc := r.pattern.FindStringSubmatchIndex(raw)
	if loc == nil || len(loc) < 4 || loc[2] < 0 {
		return span{}, false
	}
	return span{rule: r.Name, start: loc[0], end: loc[1], capStart: loc[2], capEnd: loc[3]}, true
}

// Extract splits raw into the text shown to the user and the optional goal.
// It is pure: the same input always yields the same Result.
func Extract(raw string) Result {
	return ExtractWith(Rules, raw)
}

// ExtractWith runs Extract with an explicit rule ladder.
func ExtractWith(rules []Rule, raw string) Result {
	for _, rule := range rules {
		s, ok := rule.find(raw)
		if !ok {
			continue
		}
		return resolve(raw, s)
	}
	return Result{Display: raw}
}

func resolve(raw string, s span) Result {
	s = extendToBalanced(raw, s)

	candidate := strings.TrimSpace(raw[s.capStart:s.capEnd])
	if !strings.HasSuffix(candidate, "}") {
		if i := strings.LastIndex(candidate, "}"); i > 0 {
			candidate = candidate[:i+1]
		}
	}

	goal, err := parsePayload(candidate)
	if err != nil {
		// Leave the reply untouched so the user still sees what the model meant.
		return Result{Display: raw, Rule: s.rule, ParseErr: err}
	}
	return Result{
		Display: cleanDisplay(raw[:s.start] + raw[s.end:]),
		Goal:    goal,
		Rule:    s.rule,
	}
}

// extendToBalanced widens a lazy capture that stopped at a closing brace
// belonging to a nested object or a string value. Only captures that end
// the match are widened; a fenced capture is already bounded by its fence.
func extendToBalanced(raw string, s span) span {
	if s.end != s.capEnd {
		return s
	}
	end := balancedEnd(raw, s.capStart)
	if end > s.capEnd {
		s.capEnd = end
		s.end = end
	}
	return s
}

// balancedEnd returns the index just past the brace that closes the object
// opening at raw[open], or -1 if the object never closes.
func balancedEnd(raw string, open int) int {
	if open < 0 || open >= len(raw) || raw[open] != '{' {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

var blankLines = regexp.MustCompile(`\n\s*\n`)

func cleanDisplay(s string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}
