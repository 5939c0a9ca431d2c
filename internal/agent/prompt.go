package agent

import (
	"strings"

	"github.com/quantumflow/finassist/internal/models"
)

const noPolicyContext = "(no matching policy documents)"

// BuildSystemPrompt combines the retrieved policy context with the gold data summary
func BuildSystemPrompt(chunks models.RetrievalResult, dataSummary string) string {
	var sb strings.Builder

	sb.WriteString("You are an AI Data Assistant for a Nordic financial firm.\n")
	sb.WriteString("You have access to two main knowledge sources:\n\n")

	sb.WriteString("1. POLICY DOCUMENTS (Unstructured):\n")
	if len(chunks) == 0 {
		sb.WriteString(noPolicyContext + "\n")
	}
	for _, c := range chunks {
		sb.WriteString("[" + c.Source + "] " + c.Text + "\n")
	}

	sb.WriteString("\n2. CUSTOMER DATA SUMMARY (Structured):\n")
	sb.WriteString(strings.TrimSpace(dataSummary))
	sb.WriteString("\n\n")

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- If the user asks about a policy, cite the documents.\n")
	sb.WriteString("- If the user asks about customer metrics or statistics, use the data tools instead of guessing.\n")
	sb.WriteString("- If the user asks for a 'table' or 'summary', format your response clearly using Markdown.\n")
	sb.WriteString("- If a tool reports an error, correct the arguments or explain what is missing.\n")
	sb.WriteString("- Be concise and professional.\n")

	return sb.String()
}

// snippet shortens policy text for the sources table
func snippet(text string) string {
	r := []rune(text)
	if len(r) > 50 {
		r = r[:50]
	}
	return string(r) + "..."
}
