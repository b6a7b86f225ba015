package assist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techdesk_back/knowledge"
)

func TestBuildContextRendersLabeledBlocks(t *testing.T) {
	results := []knowledge.RetrievalResult{
		{DocumentName: "Pump manual", Content: "Impeller torque is 12 Nm."},
		{DocumentName: "Wiring guide", Content: "Use 1.5mm2 wire for the supply."},
	}

	rendered := buildContext(results, 0)

	assert.Contains(t, rendered, "### Pump manual\nImpeller torque is 12 Nm.")
	assert.Contains(t, rendered, "### Wiring guide\nUse 1.5mm2 wire for the supply.")
}

func TestBuildContextDropsOversizedBlocksWhole(t *testing.T) {
	results := []knowledge.RetrievalResult{
		{DocumentName: "Top match", Content: strings.Repeat("a", 100)},
		{DocumentName: "Oversized", Content: strings.Repeat("b", 500)},
		{DocumentName: "Still fits", Content: strings.Repeat("c", 80)},
	}

	rendered := buildContext(results, 300)

	assert.Contains(t, rendered, "Top match")
	assert.NotContains(t, rendered, "Oversized", "a block over budget is dropped, never truncated")
	assert.NotContains(t, rendered, "b")
	assert.NotContains(t, rendered, "Still fits", "nothing ranked below a dropped block is admitted")
}

func TestBuildContextEmptyResults(t *testing.T) {
	assert.Equal(t, "", buildContext(nil, 1000))
}

func TestAnswerSystemPromptIncludesContextAndLanguage(t *testing.T) {
	prompt := answerSystemPrompt("### Doc\nsome facts", "de")

	assert.Contains(t, prompt, "Answer strictly from the reference material")
	assert.Contains(t, prompt, "Reply in German")
	assert.Contains(t, prompt, "### Doc\nsome facts")
}

func TestForceExtractionPromptForbidsRefusal(t *testing.T) {
	prompt := forceExtractionSystemPrompt("### Doc\nsome facts", "en")

	assert.Contains(t, prompt, "must not reply that the information is unavailable")
	assert.Contains(t, prompt, "### Doc\nsome facts")
	assert.NotEqual(t, prompt, answerSystemPrompt("### Doc\nsome facts", "en"))
}

func TestEscalationPromptsDiscloseExternalOrigin(t *testing.T) {
	system := escalationSystemPrompt("en")
	user := escalationUserPrompt("what is VS1", "draft text", "external text")

	assert.Contains(t, system, "disclose")
	require.Contains(t, user, "Question: what is VS1")
	assert.Contains(t, user, "draft text")
	assert.Contains(t, user, "external text")
}

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "German", languageName("de"))
	assert.Equal(t, "English", languageName("en"))
	assert.Equal(t, "English", languageName(""))
	assert.Equal(t, "French", languageName(" FR "))
}
