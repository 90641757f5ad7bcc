package usecase

import (
	"strings"
	"time"

	"goal-agent/internal/domain"
	"goal-agent/internal/extractor"
)

const currentDatePlaceholder = "{{CURRENT_DATE}}"

// systemPromptTemplate has one substitution point, currentDatePlaceholder.
var systemPromptTemplate = strings.Join([]string{
	"Eres un asistente financiero que ayuda a los usuarios a definir metas financieras claras y concretas.",
	"Guía una conversación natural hasta reunir todo lo necesario para registrar la meta.",
	"",
	"IMPORTANTE: Hoy es " + currentDatePlaceholder + ". Usa esta fecha como referencia para plazos y fechas.",
	"",
	"Información a reunir, una o dos preguntas a la vez:",
	"- Nombre de la meta (por ejemplo \"Comprar un auto\" o \"Fondo de emergencia\").",
	"- Valor objetivo, la cantidad de dinero necesaria.",
	"- Plazo para alcanzarla.",
	"- Descripción o detalles relevantes.",
	"- Categoría, si el usuario la conoce. Sugerencias: " + strings.Join(domain.SuggestedCategories, ", ") + ".",
	"",
	"Cuando el usuario confirme que la información es correcta (\"eso es todo\", \"está correcto\", \"confirmo\" o similar),",
	"incluye en tu respuesta la etiqueta " + extractor.Marker + " seguida de un objeto JSON, sin bloques de código:",
	"",
	extractor.Marker,
	`{`,
	`  "nombre": "Nombre de la meta",`,
	`  "valor": 1000.00,`,
	`  "tiempo": "6 meses",`,
	`  "descripcion": "Descripción de la meta",`,
	`  "categoria": "ahorro",`,
	`  "fecha_creacion": "2024-06-20T14:30:00"`,
	`}`,
	"",
	"Genera el JSON una sola vez, solo tras la confirmación. Después confirma al usuario que su meta quedó registrada",
	"y ofrécele un consejo breve. Mantén un tono cercano y evita sonar como un guion.",
}, "\n")

// renderSystemPrompt substitutes the date as DD/MM/YYYY.
func renderSystemPrompt(now time.Time) string {
	return strings.ReplaceAll(systemPromptTemplate, currentDatePlaceholder, now.Format("02/01/2006"))
}

// buildPromptMessages returns the system prompt, the stored history in order
// and the new user message. The history is never truncated.
func buildPromptMessages(now time.Time, conv *domain.Conversation, userMessage string) []domain.ChatMessage {
	history := conv.ChatMessages()
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleSystem), Content: renderSystemPrompt(now)})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleUser), Content: userMessage})
	return messages
}
