// Package llm asks a generative model to read a bill image and allocate it
// between the people named in a split instruction.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmynk/splitscribe/internal/instruction"
	"github.com/mmynk/splitscribe/internal/models"
)

// PromptInput is everything the system prompt is built from.
type PromptInput struct {
	UploaderID  string
	PayerID     string
	Roster      []models.Person
	Instruction string

	// Feedback describes why the previous answer was refused. Empty on the first attempt.
	Feedback string
}

// payerName returns the roster name of the payer, or the default member name.
func (in PromptInput) payerName() string {
	for _, p := range in.Roster {
		if p.ID == in.PayerID {
			return p.Name
		}
	}
	return models.DefaultMemberName
}

// BuildPrompt renders the system prompt for one allocation request.
func BuildPrompt(in PromptInput) (string, error) {
	roster, err := json.Marshal(in.Roster)
	if err != nil {
		return "", fmt.Errorf("failed to encode roster: %w", err)
	}
	errorJSON := func(msg string) string {
		b, _ := json.Marshal(map[string]string{"error_message": msg})
		return string(b)
	}

	var b strings.Builder
	b.WriteString("You are an expert expense-splitting assistant for a bill-scanning app.\n")
	b.WriteString("Analyze the bill IMAGE and the TEXT instruction and produce one JSON object that maps directly to the database.\n\n")

	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- The user uploading this bill has id: %s\n", in.UploaderID)
	fmt.Fprintf(&b, "- The user who paid the bill is named %q or %q and has id: %s\n", models.DefaultMemberName, in.payerName(), in.PayerID)
	fmt.Fprintf(&b, "- The only people available for splitting are: %s\n", roster)
	fmt.Fprintf(&b, "- The user's instruction is: %q\n\n", in.Instruction)

	b.WriteString("RULES:\n")
	b.WriteString("1. CURRENCY (CRITICAL): The bill is in USD. Every monetary value in the output MUST be an integer number of CENTS. Example: $12.34 becomes 1234.\n")
	b.WriteString("2. STRICT IDS (CRITICAL): Use only the exact ids from the list above for payer_id, uploaded_by and member_id. Never invent an id.\n")
	b.WriteString("3. VAGUE INSTRUCTIONS (CRITICAL): If the instruction uses \"we\", \"us\" or \"everyone\" instead of explicit names, return the vague error below.\n")
	b.WriteString("4. TREATS: If the user says they are \"treating\" or \"it's on me\", assign the entire amount to the payer and 0 to everyone else.\n")
	b.WriteString("5. CALCULATIONS:\n")
	b.WriteString("   - Compute each person's subtotal from the items they consumed.\n")
	b.WriteString("   - Tax and tip are shared in proportion to each person's subtotal over the bill subtotal.\n")
	b.WriteString("   - share_cents = person's subtotal + person's tax share + person's tip share.\n")
	b.WriteString("   - amount_cents = subtotal_cents + tax_cents + tip_cents.\n")
	b.WriteString("6. OUTPUT: Return ONLY the JSON object and nothing else.\n\n")

	b.WriteString("ERROR HANDLING:\n")
	fmt.Fprintf(&b, "- If the instruction is too vague (rule 3), return: %s\n", errorJSON(instruction.VagueMessage))
	fmt.Fprintf(&b, "- If the bill is unreadable, return: %s\n", errorJSON(instruction.UnreadableMessage))

	if in.Feedback != "" {
		b.WriteString("\nYOUR PREVIOUS ANSWER WAS REJECTED:\n")
		fmt.Fprintf(&b, "- %s\n", in.Feedback)
		b.WriteString("Fix the problem and answer again following every rule above.\n")
	}

	return b.String(), nil
}
