// Package textclean tidies resume text extracted by the backend before it
// is displayed.
package textclean

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind selects the extra cleaning applied after the common pass
type Kind int

const (
	General Kind = iota
	SectionName
	SubsectionTitle
	Bullet
)

var (
	codeFence      = regexp.MustCompile("```\\w*\\n?")
	bulletMarker   = regexp.MustCompile(`(?m)^\s*[-*•]\s*`)
	numberedMarker = regexp.MustCompile(`(?m)^\s*\d+\.\s*`)
	whitespace     = regexp.MustCompile(`\s+`)
	bracketTag     = regexp.MustCompile(`\[.*?\]`)
	angleTag       = regexp.MustCompile(`<.*?>`)
	sectionPrefix  = regexp.MustCompile(`(?i)^(section|chapter|part):\s*`)
	titlePrefix    = regexp.MustCompile(`(?i)^(title|heading):\s*`)
	wordStart      = regexp.MustCompile(`\b\w`)
	onlySymbols    = regexp.MustCompile(`^[^a-zA-Z0-9]+$`)

	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9_-]+`)
)

// Clean strips list markers, markup tags and code fences, collapses
// whitespace and applies the kind-specific rules. Text that ends up shorter
// than two characters or made only of symbols is returned as "".
func Clean(text string, kind Kind) string {
	if text == "" {
		return ""
	}

	cleaned := codeFence.ReplaceAllString(text, "")
	cleaned = bulletMarker.ReplaceAllString(cleaned, "")
	cleaned = numberedMarker.ReplaceAllString(cleaned, "")
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	cleaned = bracketTag.ReplaceAllString(cleaned, "")
	cleaned = angleTag.ReplaceAllString(cleaned, "")

	switch kind {
	case SectionName:
		cleaned = sectionPrefix.ReplaceAllString(strings.TrimSpace(cleaned), "")
		cleaned = wordStart.ReplaceAllStringFunc(cleaned, strings.ToUpper)
	case SubsectionTitle:
		cleaned = titlePrefix.ReplaceAllString(strings.TrimSpace(cleaned), "")
	}

	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) < 2 || onlySymbols.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// IsValid reports whether text survives cleaning and is not a placeholder
func IsValid(text string) bool {
	cleaned := Clean(text, General)
	return cleaned != "" && cleaned != "NA" && cleaned != "N/A"
}

// StripEmphasis removes markdown bold and italic markers
func StripEmphasis(text string) string {
	cleaned := strings.ReplaceAll(text, "*", "")
	return strings.TrimSpace(whitespace.ReplaceAllString(cleaned, " "))
}

// ExtractURLs returns every http(s) URL in text
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// ExtractEmails returns every email address in text
func ExtractEmails(text string) []string {
	return emailPattern.FindAllString(text, -1)
}

// DisplayURL drops the scheme and shortens long URLs
func DisplayURL(u string, maxLength int) string {
	display := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	return Truncate(display, maxLength)
}

// Truncate cuts text to maxLength runes and appends "..." when it was longer
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	return string([]rune(text)[:maxLength]) + "..."
}

// TitleCase lowercases text and capitalizes each word
func TitleCase(text string) string {
	// A Caser keeps state between calls
	return cases.Title(language.English).String(text)
}

// BulletPoint prefixes text with "• ", turning a leading dash into a bullet
func BulletPoint(text string) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return ""
	case strings.HasPrefix(trimmed, "•"):
		return text
	case strings.HasPrefix(trimmed, "-"):
		return "• " + strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
	default:
		return "• " + text
	}
}

var sectionIcons = []struct {
	key  string
	icon string
}{
	{"contact", "📧"},
	{"personal", "👤"},
	{"education", "🎓"},
	{"experience", "💼"},
	{"work", "💼"},
	{"skill", "🛠️"},
	{"technical", "🛠️"},
	{"project", "🚀"},
	{"achievement", "🏆"},
	{"award", "🏆"},
	{"certification", "📜"},
	{"certificate", "📜"},
	{"publication", "📚"},
	{"research", "🔬"},
	{"responsibility", "📋"},
	{"position", "📋"},
	{"leadership", "👔"},
	{"volunteer", "🤝"},
	{"language", "🌍"},
	{"interest", "🎯"},
	{"hobby", "🎨"},
	{"reference", "📝"},
	{"summary", "📄"},
	{"objective", "🎯"},
	{"about", "💡"},
}

// SectionIcon picks an emoji for a section heading
func SectionIcon(sectionName string) string {
	name := strings.ToLower(sectionName)
	for _, e := range sectionIcons {
		if strings.Contains(name, e.key) {
			return e.icon
		}
	}
	return "📋"
}
