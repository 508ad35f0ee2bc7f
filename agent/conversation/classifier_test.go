package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegexClassifier_Extract(t *testing.T) {
	c := NewRegexClassifier()
	tests := []struct {
		name string
		text string
		want Extraction
	}{
		{
			name: "my name is",
			text: "my name is sarah",
			want: Extraction{Name: "Sarah"},
		},
		{
			name: "i'm with interests",
			text: "Hi, I'm John, interested in SEO and web design.",
			want: Extraction{Name: "John", Interests: []string{"seo", "web design"}},
		},
		{
			name: "i am followed by a non-name",
			text: "I am looking for a new website",
			want: Extraction{Interests: []string{"new website"}},
		},
		{
			name: "call me",
			text: "You can call me Mike",
			want: Extraction{Name: "Mike"},
		},
		{
			name: "email",
			text: "write to Jane.Doe@Example.com please",
			want: Extraction{Email: "jane.doe@example.com"},
		},
		{
			name: "phone with parentheses",
			text: "reach me at (404) 555-1234 today",
			want: Extraction{Phone: "404-555-1234"},
		},
		{
			name: "phone with country code",
			text: "+1 404.555.1234",
			want: Extraction{Phone: "404-555-1234"},
		},
		{
			name: "invalid area code",
			text: "ticket 123-456-7890",
			want: Extraction{},
		},
		{
			name: "keyword only",
			text: "Do you do branding?",
			want: Extraction{Interests: []string{"branding"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Extract(tt.text))
		})
	}
}

func TestRegexClassifier_FirstNamePatternWins(t *testing.T) {
	got := NewRegexClassifier().Extract("call me Al, but my name is Albert")
	assert.Equal(t, "Albert", got.Name)
}

func TestRegexClassifier_Classify(t *testing.T) {
	c := NewRegexClassifier()
	tests := []struct {
		text string
		want Intent
	}{
		{"Hello there", IntentGreeting},
		{"good evening!", IntentGreeting},
		{"ok bye for now", IntentFarewell},
		{"thanks a lot", IntentThanks},
		{"take me to the pricing page", IntentNavigation},
		{"how can I contact you", IntentContact},
		{"What services do you offer?", IntentQuestion},
		{"seo pricing?", IntentQuestion},
		{"blue", IntentUnknown},
		{"   ", IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestExtraction_Empty(t *testing.T) {
	assert.True(t, Extraction{}.Empty())
	assert.False(t, Extraction{Phone: "404-555-1234"}.Empty())
}
