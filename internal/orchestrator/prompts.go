package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ashureev/ngx-reader/internal/content"
	"github.com/ashureev/ngx-reader/internal/persona"
)

const imagePromptTemplate = `Futuristic abstract 3D visualization of: "%s".
Context: Biology, skeletal muscle, %s.
Style: Neon blue/purple/emerald glowing lines, dark background, medical data visualization, cinematic lighting, octane render.
NO text, NO organs, NO gore. Abstract representation.`

// chatInstruction is the persona prefix followed by the section the reader
// is on, which the model treats as its source of truth.
func chatInstruction(p persona.Persona, sec content.Section) string {
	var b strings.Builder
	if p.SystemPromptPrefix != "" {
		b.WriteString(p.SystemPromptPrefix)
		b.WriteString("\n\n")
	}
	b.WriteString("CONTEXTO DEL LIBRO (Fuente de verdad):\n")
	b.WriteString("Título: " + sec.Title + "\n")
	b.WriteString("Subtítulo: " + sec.Subtitle + "\n")
	b.WriteString("Contenido: " + sec.PlainText())
	return b.String()
}

func imagePrompt(subject string, sec content.Section) string {
	return fmt.Sprintf(imagePromptTemplate, subject, sec.Title)
}

func visualizeUserMessage(input string) string {
	return "Visualizar: " + input
}

func visualizationCaption(input string) string {
	return "Visualización: " + input
}
