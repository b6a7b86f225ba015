package assist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhraseCheckerIsGrounded(t *testing.T) {
	checker := newPhraseChecker()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"factual answer", "VS1 is nominally 2.05V measured against ground.", true},
		{"explicit refusal", "The document does not contain this information.", false},
		{"case insensitive", "I CANNOT FIND any mention of that part.", false},
		{"no information", "There is no information about the torque value.", false},
		{"not found", "That value was not found in the provided material.", false},
		{"bare not found", "Not found.", false},
		{"german refusal", "Dazu liegen keine Informationen vor.", false},
		{"german not contained", "Diese Angabe ist im Material nicht enthalten.", false},
		{"empty", "", false},
		{"whitespace only", "   \n\t ", false},
		{"partial answer stays grounded", "The manual covers the 24V variant; the 12V variant uses the same pinout.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.IsGrounded(tt.text))
		})
	}
}
