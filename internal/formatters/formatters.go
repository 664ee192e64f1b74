package formatters

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"resumeunlocked/internal/textclean"
	"resumeunlocked/internal/types"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(data any) (string, error)
	SupportedType() string
}

// FormatterRegistry manages all available formatters
type FormatterRegistry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// GlobalRegistry is the registry used by command output
var GlobalRegistry = NewFormatterRegistry()

// NewFormatterRegistry creates a new formatter registry with default formatters
func NewFormatterRegistry() *FormatterRegistry {
	registry := &FormatterRegistry{
		formatters: make(map[string]map[string]Formatter),
	}

	// Register default formatters
	registry.RegisterFormatter("json", "any", &JSONFormatter{})
	registry.RegisterFormatter("text", "SessionStatus", &StatusTextFormatter{})
	registry.RegisterFormatter("markdown", "SessionStatus", &StatusMarkdownFormatter{})
	registry.RegisterFormatter("text", "Profile", &ProfileTextFormatter{})
	registry.RegisterFormatter("markdown", "Profile", &ProfileMarkdownFormatter{})
	registry.RegisterFormatter("text", "DraftList", &DraftListTextFormatter{})
	registry.RegisterFormatter("markdown", "DraftList", &DraftListMarkdownFormatter{})
	registry.RegisterFormatter("text", "any", &PlainTextFormatter{})

	return registry
}

// RegisterFormatter registers a new formatter for a specific format and data type
func (fr *FormatterRegistry) RegisterFormatter(format, dataType string, formatter Formatter) {
	if fr.formatters[format] == nil {
		fr.formatters[format] = make(map[string]Formatter)
	}
	fr.formatters[format][dataType] = formatter
}

// Format formats data using the appropriate formatter
func (fr *FormatterRegistry) Format(data any, format string) (string, error) {
	dataType := getDataType(data)

	// Try specific formatter first
	if formatters, exists := fr.formatters[format]; exists {
		if formatter, exists := formatters[dataType]; exists {
			return formatter.Format(data)
		}
		// Fall back to generic formatter
		if formatter, exists := formatters["any"]; exists {
			return formatter.Format(data)
		}
	}

	return "", fmt.Errorf("no formatter found for format '%s' and type '%s'", format, dataType)
}

// GetSupportedFormats returns all supported formats
func (fr *FormatterRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(fr.formatters))
	for format := range fr.formatters {
		formats = append(formats, format)
	}
	slices.Sort(formats)
	return formats
}

func getDataType(data any) string {
	switch data.(type) {
	case types.SessionStatus, *types.SessionStatus:
		return "SessionStatus"
	case types.Profile, *types.Profile:
		return "Profile"
	case types.DraftList, *types.DraftList:
		return "DraftList"
	default:
		return "any"
	}
}

// JSONFormatter handles JSON formatting for any data type
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

func (jf *JSONFormatter) SupportedType() string {
	return "any"
}

// PlainTextFormatter prints values that have no dedicated text layout
type PlainTextFormatter struct{}

func (ptf *PlainTextFormatter) Format(data any) (string, error) {
	switch v := data.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return (&JSONFormatter{}).Format(data)
	}
}

func (ptf *PlainTextFormatter) SupportedType() string {
	return "any"
}

func asStatus(data any) (types.SessionStatus, error) {
	switch v := data.(type) {
	case types.SessionStatus:
		return v, nil
	case *types.SessionStatus:
		return *v, nil
	}
	return types.SessionStatus{}, fmt.Errorf("expected SessionStatus, got %T", data)
}

// StatusTextFormatter handles text formatting for the session status
type StatusTextFormatter struct{}

func (stf *StatusTextFormatter) Format(data any) (string, error) {
	status, err := asStatus(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString("=== SESSION ===\n")
	if status.Identity == nil {
		output.WriteString("Signed in: no\n")
	} else {
		output.WriteString(fmt.Sprintf("Signed in: %s\n", status.Identity.Email))
		if status.Identity.DisplayName != "" {
			output.WriteString(fmt.Sprintf("Name: %s\n", status.Identity.DisplayName))
		}
	}
	output.WriteString(fmt.Sprintf("Auth method: %s\n", status.AuthMethod))
	if status.TokenExpiresAt != "" {
		expiry := status.TokenExpiresAt
		if status.TokenExpired {
			expiry += " (expired)"
		}
		output.WriteString(fmt.Sprintf("Token expires: %s\n", expiry))
	}
	output.WriteString("\n=== NAVIGATION ===\n")
	output.WriteString(fmt.Sprintf("View: %s\n", status.Navigation.View))
	output.WriteString(fmt.Sprintf("Tab: %s\n", status.Navigation.Tab))
	if status.Loading != "" && status.Loading != types.LoadingNone {
		output.WriteString(fmt.Sprintf("Loading: %s\n", status.Loading))
	}

	return output.String(), nil
}

func (stf *StatusTextFormatter) SupportedType() string {
	return "SessionStatus"
}

// StatusMarkdownFormatter handles markdown formatting for the session status
type StatusMarkdownFormatter struct{}

func (smf *StatusMarkdownFormatter) Format(data any) (string, error) {
	status, err := asStatus(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString("# Session\n\n")
	output.WriteString("| Field | Value |\n|---|---|\n")
	email := "_signed out_"
	if status.Identity != nil {
		email = status.Identity.Email
	}
	output.WriteString(fmt.Sprintf("| Email | %s |\n", email))
	output.WriteString(fmt.Sprintf("| Auth method | %s |\n", status.AuthMethod))
	output.WriteString(fmt.Sprintf("| View | %s |\n", status.Navigation.View))
	output.WriteString(fmt.Sprintf("| Tab | %s |\n", status.Navigation.Tab))
	if status.TokenExpiresAt != "" {
		output.WriteString(fmt.Sprintf("| Token expires | %s |\n", status.TokenExpiresAt))
	}

	return output.String(), nil
}

func (smf *StatusMarkdownFormatter) SupportedType() string {
	return "SessionStatus"
}

func asProfile(data any) (*types.Profile, error) {
	switch v := data.(type) {
	case types.Profile:
		return &v, nil
	case *types.Profile:
		if v != nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("expected Profile, got %T", data)
}

// cleanSections drops sections, titles and bullets that are empty after
// cleaning
func cleanSections(p *types.Profile) []types.Section {
	if !p.HasSections() {
		return nil
	}
	out := make([]types.Section, 0, len(p.ResumeData.Sections))
	for _, sec := range p.ResumeData.Sections {
		name := textclean.Clean(sec.SectionName, textclean.SectionName)
		if name == "" {
			continue
		}
		cleaned := types.Section{SectionName: name}
		for _, sub := range sec.Subsections {
			entry := types.Subsection{Title: textclean.Clean(sub.Title, textclean.SubsectionTitle)}
			for _, line := range sub.Data {
				if textclean.IsValid(line) {
					entry.Data = append(entry.Data, textclean.Clean(line, textclean.Bullet))
				}
			}
			if entry.Title != "" || len(entry.Data) > 0 {
				cleaned.Subsections = append(cleaned.Subsections, entry)
			}
		}
		out = append(out, cleaned)
	}
	return out
}

// contactLinks collects the distinct email addresses and URLs mentioned
// anywhere in the cleaned sections, in order of appearance
func contactLinks(sections []types.Section) (emails, urls []string) {
	seen := make(map[string]bool)
	add := func(list *[]string, v string) {
		if !seen[v] {
			seen[v] = true
			*list = append(*list, v)
		}
	}
	for _, sec := range sections {
		for _, sub := range sec.Subsections {
			for _, text := range append([]string{sub.Title}, sub.Data...) {
				for _, e := range textclean.ExtractEmails(text) {
					add(&emails, e)
				}
				for _, u := range textclean.ExtractURLs(text) {
					add(&urls, u)
				}
			}
		}
	}
	return emails, urls
}

const contactURLLength = 40

// ProfileTextFormatter handles text formatting for profiles
type ProfileTextFormatter struct{}

func (ptf *ProfileTextFormatter) Format(data any) (string, error) {
	profile, err := asProfile(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString("=== PROFILE ===\n")
	output.WriteString(fmt.Sprintf("Email: %s\n", profile.Email))
	if len(profile.SelectedRoles) > 0 {
		output.WriteString(fmt.Sprintf("Target roles: %s\n", strings.Join(profile.SelectedRoles, ", ")))
	}

	sections := cleanSections(profile)
	if len(sections) == 0 {
		output.WriteString("\nNo resume sections yet. Upload a resume to get started.\n")
		return output.String(), nil
	}

	emails, urls := contactLinks(sections)
	contacts := emails
	for _, u := range urls {
		contacts = append(contacts, textclean.DisplayURL(u, contactURLLength))
	}
	if len(contacts) > 0 {
		output.WriteString(fmt.Sprintf("Contact: %s\n", strings.Join(contacts, " | ")))
	}

	for _, sec := range sections {
		output.WriteString(fmt.Sprintf("\n%s %s\n", textclean.SectionIcon(sec.SectionName), strings.ToUpper(sec.SectionName)))
		for _, sub := range sec.Subsections {
			if sub.Title != "" {
				output.WriteString(fmt.Sprintf("  %s\n", sub.Title))
			}
			for _, line := range sub.Data {
				output.WriteString(fmt.Sprintf("    %s\n", textclean.BulletPoint(line)))
			}
		}
	}

	return output.String(), nil
}

func (ptf *ProfileTextFormatter) SupportedType() string {
	return "Profile"
}

// ProfileMarkdownFormatter handles markdown formatting for profiles
type ProfileMarkdownFormatter struct{}

func (pmf *ProfileMarkdownFormatter) Format(data any) (string, error) {
	profile, err := asProfile(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("# Profile: %s\n\n", profile.Email))
	if len(profile.SelectedRoles) > 0 {
		output.WriteString("## Target Roles\n\n")
		for _, role := range profile.SelectedRoles {
			output.WriteString(fmt.Sprintf("- %s\n", role))
		}
		output.WriteString("\n")
	}

	sections := cleanSections(profile)
	if emails, urls := contactLinks(sections); len(emails)+len(urls) > 0 {
		output.WriteString("## Contact\n\n")
		for _, e := range emails {
			output.WriteString(fmt.Sprintf("- [%s](mailto:%s)\n", e, e))
		}
		for _, u := range urls {
			output.WriteString(fmt.Sprintf("- [%s](%s)\n", textclean.DisplayURL(u, contactURLLength), u))
		}
		output.WriteString("\n")
	}

	for _, sec := range sections {
		heading := textclean.TitleCase(sec.SectionName)
		output.WriteString(fmt.Sprintf("## %s %s\n\n", textclean.SectionIcon(sec.SectionName), heading))
		for _, sub := range sec.Subsections {
			if sub.Title != "" {
				output.WriteString(fmt.Sprintf("### %s\n\n", sub.Title))
			}
			for _, line := range sub.Data {
				output.WriteString(fmt.Sprintf("- %s\n", textclean.StripEmphasis(line)))
			}
			output.WriteString("\n")
		}
	}

	return output.String(), nil
}

func (pmf *ProfileMarkdownFormatter) SupportedType() string {
	return "Profile"
}

func asDraftList(data any) (types.DraftList, error) {
	switch v := data.(type) {
	case types.DraftList:
		return v, nil
	case *types.DraftList:
		return *v, nil
	}
	return types.DraftList{}, fmt.Errorf("expected DraftList, got %T", data)
}

// DraftListTextFormatter handles text formatting for saved drafts
type DraftListTextFormatter struct{}

func (dtf *DraftListTextFormatter) Format(data any) (string, error) {
	list, err := asDraftList(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("=== DRAFTS (%d) ===\n", len(list.Drafts)))
	for _, d := range list.Drafts {
		name := d.Name
		if name == "" {
			name = "(untitled)"
		}
		output.WriteString(fmt.Sprintf("%s  %s  %s\n", d.ID, name, d.UpdatedAt))
		if preview := textclean.Truncate(strings.Join(strings.Fields(d.Content), " "), 60); preview != "" {
			output.WriteString(fmt.Sprintf("    %s\n", preview))
		}
	}

	return output.String(), nil
}

func (dtf *DraftListTextFormatter) SupportedType() string {
	return "DraftList"
}

// DraftListMarkdownFormatter handles markdown formatting for saved drafts
type DraftListMarkdownFormatter struct{}

func (dmf *DraftListMarkdownFormatter) Format(data any) (string, error) {
	list, err := asDraftList(data)
	if err != nil {
		return "", err
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("# Drafts for %s\n\n", list.Email))
	output.WriteString("| ID | Name | Updated |\n|---|---|---|\n")
	for _, d := range list.Drafts {
		output.WriteString(fmt.Sprintf("| %s | %s | %s |\n", d.ID, d.Name, d.UpdatedAt))
	}

	return output.String(), nil
}

func (dmf *DraftListMarkdownFormatter) SupportedType() string {
	return "DraftList"
}
