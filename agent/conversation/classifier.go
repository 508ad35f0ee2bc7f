package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

// Intent is the coarse purpose of a visitor message.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentFarewell   Intent = "farewell"
	IntentThanks     Intent = "thanks"
	IntentNavigation Intent = "navigation"
	IntentContact    Intent = "contact"
	IntentQuestion   Intent = "question"
	IntentUnknown    Intent = "unknown"
)

// Extraction holds the profile fields found in a message.
type Extraction struct {
	Name      string   `json:"name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Empty reports whether nothing was extracted.
func (e Extraction) Empty() bool {
	return e.Name == "" && e.Email == "" && e.Phone == "" && len(e.Interests) == 0
}

// Classifier extracts profile data and intents from visitor text.
type Classifier interface {
	Extract(text string) Extraction
	Classify(text string) Intent
}

// NamePatterns are tried in order; the first match wins.
var NamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([a-z][a-z'-]*)`),
	regexp.MustCompile(`(?i)\bi am\s+([a-z][a-z'-]*)`),
	regexp.MustCompile(`(?i)\bi'm\s+([a-z][a-z'-]*)`),
	regexp.MustCompile(`(?i)\bcall me\s+([a-z][a-z'-]*)`),
}

// EmailPattern matches a standard email address.
var EmailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

// PhonePattern matches a NANP number: optional +1, area code and exchange
// starting with 2-9, separators of space, dot or dash.
var PhonePattern = regexp.MustCompile(`(?:^|\D)(?:\+?1[-.\s]?)?\(?([2-9]\d{2})\)?[-.\s]?([2-9]\d{2})[-.\s]?(\d{4})(?:\D|$)`)

// InterestPatterns capture the phrase after an interest cue up to the next
// sentence punctuation.
var InterestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\binterested in\s+([^.,!?;]+)`),
	regexp.MustCompile(`(?i)\blooking for\s+([^.,!?;]+)`),
	regexp.MustCompile(`(?i)\bneed help with\s+([^.,!?;]+)`),
	regexp.MustCompile(`(?i)\bcurious about\s+([^.,!?;]+)`),
}

// InterestKeywords are service names recorded whenever they are mentioned.
var InterestKeywords = []string{
	"web design", "web development", "seo", "marketing", "branding",
	"e-commerce", "mobile app", "hosting", "social media", "content writing",
}

// intentRule 按顺序匹配，第一个命中的意图生效
type intentRule struct {
	intent  Intent
	pattern *regexp.Regexp
}

var intentRules = []intentRule{
	{IntentGreeting, regexp.MustCompile(`(?i)^\s*(hi|hello|hey|howdy|greetings|good (morning|afternoon|evening))\b`)},
	{IntentFarewell, regexp.MustCompile(`(?i)\b(bye|goodbye|see you|talk (to you )?later|good night)\b`)},
	{IntentThanks, regexp.MustCompile(`(?i)\b(thanks|thank you|thx|appreciate it)\b`)},
	{IntentNavigation, regexp.MustCompile(`(?i)\b(go to|take me to|navigate to|open|show me)\b.*\b(page|home|about|services|portfolio|pricing|blog|contact)\b`)},
	{IntentContact, regexp.MustCompile(`(?i)\b(contact|call|email|phone|reach|get in touch)\b`)},
	{IntentQuestion, regexp.MustCompile(`(?i)(\?\s*$|^\s*(what|who|where|when|why|how|which|can|could|do|does|is|are|will|would|should)\b)`)},
}

// notNames are words that follow "I am" / "I'm" without being a name.
var notNames = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "not": {}, "just": {}, "here": {}, "looking": {},
	"interested": {}, "trying": {}, "good": {}, "fine": {}, "great": {}, "ok": {},
	"okay": {}, "new": {}, "so": {}, "very": {}, "really": {}, "also": {}, "still": {},
	"curious": {}, "wondering": {}, "in": {}, "from": {}, "on": {}, "at": {}, "with": {},
	"going": {}, "having": {}, "getting": {}, "happy": {}, "sorry": {}, "back": {},
	"ready": {}, "sure": {}, "thinking": {}, "planning": {}, "working": {},
}

// RegexClassifier is the default Classifier built from the exported patterns.
type RegexClassifier struct{}

// NewRegexClassifier 创建基于正则的文本分类器
func NewRegexClassifier() *RegexClassifier {
	return &RegexClassifier{}
}

// Extract applies the name, email, phone and interest patterns.
func (RegexClassifier) Extract(text string) Extraction {
	var out Extraction
	out.Name = extractName(text)
	out.Email = strings.ToLower(EmailPattern.FindString(text))
	if m := PhonePattern.FindStringSubmatch(text); m != nil {
		out.Phone = m[1] + "-" + m[2] + "-" + m[3]
	}
	out.Interests = extractInterests(text)
	return out
}

func extractName(text string) string {
	for _, re := range NamePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		word := strings.ToLower(m[1])
		if _, skip := notNames[word]; skip {
			continue
		}
		return capitalize(word)
	}
	return ""
}

func capitalize(word string) string {
	runes := []rune(word)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func extractInterests(text string) []string {
	var interests []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = cleanInterest(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		interests = append(interests, s)
	}

	for _, re := range InterestPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			for _, part := range strings.Split(m[1], " and ") {
				add(part)
			}
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range InterestKeywords {
		if strings.Contains(lower, kw) {
			add(kw)
		}
	}
	return interests
}

const maxInterestLen = 60

func cleanInterest(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	for _, article := range []string{"a ", "an ", "the ", "some "} {
		s = strings.TrimPrefix(s, article)
	}
	if r := []rune(s); len(r) > maxInterestLen {
		s = strings.TrimSpace(string(r[:maxInterestLen]))
	}
	return s
}

// Classify returns the first matching intent, or IntentUnknown.
func (RegexClassifier) Classify(text string) Intent {
	if strings.TrimSpace(text) == "" {
		return IntentUnknown
	}
	for _, rule := range intentRules {
		if rule.pattern.MatchString(text) {
			return rule.intent
		}
	}
	return IntentUnknown
}
