package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goal-agent/internal/domain"
)

func ruleByName(t *testing.T, name string) Rule {
	t.Helper()
	for _, r := range Rules {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("rule %q not found", name)
	return Rule{}
}

func TestRules_Order(t *testing.T) {
	names := make([]string, 0, len(Rules))
	for _, r := range Rules {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"fenced", "inline", "trailing", "flat"}, names)
}

func TestExtract_FencedPayload(t *testing.T) {
	payload := "META_FINANCIERA_JSON:\n```json\n{\"nombre\":\"Comprar un auto\",\"valor\":15000,\"tiempo\":\"2 años\",\"descripcion\":\"Auto usado\",\"categoria\":\"auto\"}\n```"
	raw := "¡Perfecto!\n\n" + payload + "\n\nTu meta ha sido registrada."

	res := Extract(raw)
	require.True(t, res.Complete())
	require.Equal(t, "fenced", res.Rule)
	require.Equal(t, "¡Perfecto!\n\nTu meta ha sido registrada.", res.Display)
	require.NotContains(t, res.Display, Marker)
	require.NotContains(t, res.Display, payload)

	require.Equal(t, "Comprar un auto", res.Goal.Name)
	require.InDelta(t, 15000.0, res.Goal.TargetAmount, 0.0001)
	require.Equal(t, "2 años", res.Goal.Timeframe)
	require.Equal(t, "Auto usado", res.Goal.Description)
	require.Equal(t, "auto", res.Goal.Category)
}

func TestExtract_NoMarker_ReturnsInputUnchanged(t *testing.T) {
	inputs := []string{
		"",
		"¿Cuánto dinero quieres ahorrar?",
		"Aquí hay un objeto {\"nombre\":\"x\"} pero sin marcador.",
		"  espacios  \n\n\n  alrededor  ",
	}
	for _, in := range inputs {
		res := Extract(in)
		require.Equal(t, in, res.Display, "input=%q", in)
		require.Nil(t, res.Goal)
		require.Empty(t, res.Rule)
	}
}

func TestExtract_InlinePayloadWithTrailingProse(t *testing.T) {
	res := Extract(`Listo META_FINANCIERA_JSON:{"nombre":"x","valor":5} thanks!`)
	require.True(t, res.Complete())
	require.Equal(t, "inline", res.Rule)
	require.Equal(t, "x", res.Goal.Name)
	require.InDelta(t, 5.0, res.Goal.TargetAmount, 0.0001)
	require.NotContains(t, res.Goal.Name, "thanks")
	require.NotContains(t, res.Goal.Description, "thanks")
	require.Contains(t, res.Display, "thanks!")
	require.NotContains(t, res.Display, Marker)
}

func TestExtract_TextBetweenMarkerAndObject(t *testing.T) {
	raw := "Resumen:\nMETA_FINANCIERA_JSON: aquí está tu meta\n{\"nombre\":\"Viaje\",\"valor\":\"2500.50\"}\nBuen viaje."
	res := Extract(raw)
	require.True(t, res.Complete())
	require.Equal(t, "trailing", res.Rule)
	require.Equal(t, "Viaje", res.Goal.Name)
	require.InDelta(t, 2500.50, res.Goal.TargetAmount, 0.0001)
	require.Equal(t, "Resumen:\n\nBuen viaje.", res.Display)
}

func TestExtract_NestedObjectIsNotTruncated(t *testing.T) {
	raw := `META_FINANCIERA_JSON: {"nombre":"Casa","detalles":{"zona":"norte"},"valor":100} fin`
	res := Extract(raw)
	require.True(t, res.Complete())
	require.Equal(t, "Casa", res.Goal.Name)
	require.InDelta(t, 100.0, res.Goal.TargetAmount, 0.0001)
	require.Equal(t, "fin", res.Display)
}

func TestExtract_BraceInsideStringValue(t *testing.T) {
	raw := `META_FINANCIERA_JSON: {"nombre":"Fondo {A}","valor":10}`
	res := Extract(raw)
	require.True(t, res.Complete())
	require.Equal(t, "Fondo {A}", res.Goal.Name)
	require.Empty(t, res.Display)
}

func TestExtract_MalformedPayload_LeavesTextUnchanged(t *testing.T) {
	inputs := []string{
		`Tu meta: META_FINANCIERA_JSON: {"nombre": "x", "valor": }`,
		`META_FINANCIERA_JSON: {"nombre":"x","meta":{"a":1}`,
		`META_FINANCIERA_JSON: {}`,
		`META_FINANCIERA_JSON: {"prioridad":"alta"}`,
		`META_FINANCIERA_JSON: {"nombre":"x","valor":true}`,
	}
	for _, in := range inputs {
		res := Extract(in)
		require.Nil(t, res.Goal, "input=%q", in)
		require.Equal(t, in, res.Display, "input=%q", in)
		require.NotEmpty(t, res.Rule, "input=%q", in)
		require.Error(t, res.ParseErr, "input=%q", in)
	}
}

func TestExtract_UnclosedObject_NoRuleMatches(t *testing.T) {
	raw := `META_FINANCIERA_JSON: {"nombre":"x","valor":5`
	res := Extract(raw)
	require.Nil(t, res.Goal)
	require.Empty(t, res.Rule)
	require.Equal(t, raw, res.Display)
}

func TestExtract_MissingCategory_AcceptedWithoutDefaults(t *testing.T) {
	res := Extract(`META_FINANCIERA_JSON: {"nombre":"Fondo","valor":1000,"tiempo":"6 meses","descripcion":"Emergencias"}`)
	require.True(t, res.Complete())
	require.Empty(t, res.Goal.Category)
	require.Empty(t, res.Goal.Status)
	require.True(t, res.Goal.CreatedAt.IsZero())
}

func TestExtract_PayloadFieldCoercion(t *testing.T) {
	res := Extract(`META_FINANCIERA_JSON: {"nombre":"Fondo","valor":"$1200","tiempo":6,"estado":"Pendiente","fecha_creacion":"2023-06-20T14:30:00","categoria":null}`)
	require.True(t, res.Complete())
	require.InDelta(t, 1200.0, res.Goal.TargetAmount, 0.0001)
	require.Equal(t, "6", res.Goal.Timeframe)
	require.Equal(t, domain.GoalStatusPending, res.Goal.Status)
	require.Equal(t, time.Date(2023, 6, 20, 14, 30, 0, 0, time.UTC), res.Goal.CreatedAt)
	require.Empty(t, res.Goal.Category)

	res = Extract(`META_FINANCIERA_JSON: {"nombre":"Fondo","fecha_creacion":"ayer"}`)
	require.True(t, res.Complete())
	require.True(t, res.Goal.CreatedAt.IsZero())
}

func TestExtract_CollapsesBlankLines(t *testing.T) {
	raw := "Hola\n\n\n\nMETA_FINANCIERA_JSON: {\"nombre\":\"x\"}\n  \n\n\nAdiós\n\n"
	res := Extract(raw)
	require.True(t, res.Complete())
	require.Equal(t, "Hola\n\nAdiós", res.Display)
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"sin marcador",
		"META_FINANCIERA_JSON:\n```json\n{\"nombre\":\"x\",\"valor\":1}\n```\nok",
		`META_FINANCIERA_JSON: {"nombre": }`,
	}
	for _, in := range inputs {
		first := Extract(in)
		second := Extract(in)
		require.Equal(t, first, second, "input=%q", in)
	}
}

func TestRule_EachMatchesIndependently(t *testing.T) {
	cases := []struct {
		rule string
		raw  string
		name string
	}{
		{"fenced", "META_FINANCIERA_JSON: ```\n{\"nombre\":\"a\"}\n```", "a"},
		{"inline", `META_FINANCIERA_JSON:   {"nombre":"b"}`, "b"},
		{"trailing", `META_FINANCIERA_JSON: see below -> {"nombre":"c"}`, "c"},
		{"flat", `META_FINANCIERA_JSON: see below -> {"nombre":"d"}`, "d"},
	}
	for _, tc := range cases {
		res := ExtractWith([]Rule{ruleByName(t, tc.rule)}, tc.raw)
		require.True(t, res.Complete(), "rule=%s", tc.rule)
		require.Equal(t, tc.rule, res.Rule)
		require.Equal(t, tc.name, res.Goal.Name)
	}
}

func TestRule_FencedDoesNotMatchBareObject(t *testing.T) {
	res := ExtractWith([]Rule{ruleByName(t, "fenced")}, `META_FINANCIERA_JSON: {"nombre":"a"}`)
	require.False(t, res.Complete())
	require.Empty(t, res.Rule)
}

func TestRule_InlineRejectsInterveningProse(t *testing.T) {
	res := ExtractWith([]Rule{ruleByName(t, "inline")}, `META_FINANCIERA_JSON: here {"nombre":"a"}`)
	require.False(t, res.Complete())
}

func TestBalancedEnd(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`{}`, 2},
		{`{"a":{"b":1}} tail`, 13},
		{`{"a":"}"}`, 9},
		{`{"a":"\"}"}`, 11},
		{`{"a":1`, -1},
		{`x{}`, -1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, balancedEnd(tc.in, 0), "in=%q", tc.in)
	}
}

func TestCleanDisplay(t *testing.T) {
	require.Equal(t, "a\n\n b", cleanDisplay("  a\n \n\t\n b "))
	require.Equal(t, "", cleanDisplay(strings.Repeat("\n", 5)))
}
