package assist

import (
	"fmt"
	"strings"

	"techdesk_back/knowledge"
)

const defaultContextCharBudget = 6000

// buildContext renders retrieval results as labeled blocks within a fixed
// character budget. Once a block would overflow the budget, it and every
// lower-ranked block are dropped whole, so ranking order is preserved and no
// document is truncated mid-content.
func buildContext(results []knowledge.RetrievalResult, charBudget int) string {
	if charBudget <= 0 {
		charBudget = defaultContextCharBudget
	}

	var builder strings.Builder
	for _, result := range results {
		block := fmt.Sprintf("### %s\n%s\n\n", result.DocumentName, result.Content)
		if builder.Len()+len(block) > charBudget {
			break
		}
		builder.WriteString(block)
	}
	return strings.TrimSpace(builder.String())
}

func answerSystemPrompt(context, language string) string {
	parts := []string{
		"You are a support assistant for service technicians.",
		"Answer strictly from the reference material below. Do not invent facts that are not in it.",
		"Never state outright that information is missing; if the material only partially covers the question, give the partial or closely related information you do have.",
		"When the material contains numeric or specification values, quote them exactly as written.",
	}
	if language != "" {
		parts = append(parts, fmt.Sprintf("Reply in %s unless the user explicitly requests another language.", languageName(language)))
	}
	if context != "" {
		parts = append(parts, "Reference material:\n\n"+context)
	}
	return strings.Join(parts, "\n\n")
}

// forceExtractionSystemPrompt is the second-pass variant: same context,
// stronger imperative demanding partial answers.
func forceExtractionSystemPrompt(context, language string) string {
	parts := []string{
		"You are a support assistant for service technicians.",
		"The reference material below DOES contain information related to the question. Extract everything relevant, even if it only partially answers the question.",
		"You must not reply that the information is unavailable or not found. Summarize the closest matching facts instead.",
		"Quote numeric and specification values exactly as written.",
	}
	if language != "" {
		parts = append(parts, fmt.Sprintf("Reply in %s unless the user explicitly requests another language.", languageName(language)))
	}
	if context != "" {
		parts = append(parts, "Reference material:\n\n"+context)
	}
	return strings.Join(parts, "\n\n")
}

func escalationSystemPrompt(language string) string {
	parts := []string{
		"You are a support assistant for service technicians.",
		"Combine the internal draft answer with the supplementary external information into one coherent answer.",
		"Clearly disclose which parts originate from external sources outside the internal documentation.",
	}
	if language != "" {
		parts = append(parts, fmt.Sprintf("Reply in %s unless the user explicitly requests another language.", languageName(language)))
	}
	return strings.Join(parts, "\n\n")
}

func escalationUserPrompt(query, priorAnswer, externalInfo string) string {
	return fmt.Sprintf("Question: %s\n\nInternal draft answer:\n%s\n\nSupplementary external information:\n%s", query, priorAnswer, externalInfo)
}

func conversationSystemPrompt(language string) string {
	parts := []string{"You are a helpful support assistant for service technicians."}
	if language != "" {
		parts = append(parts, fmt.Sprintf("Reply in %s unless the user explicitly requests another language.", languageName(language)))
	}
	return strings.Join(parts, "\n\n")
}

func languageName(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "de":
		return "German"
	case "fr":
		return "French"
	case "es":
		return "Spanish"
	default:
		return "English"
	}
}
