package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AuthMethod records how the current session was established
type AuthMethod string

const (
	AuthMethodFederated AuthMethod = "provider-federated"
	AuthMethodPassword  AuthMethod = "password"
	AuthMethodNone      AuthMethod = "none"
)

// View is one screen of the onboarding funnel or the dashboard.
// Values read from a URL are kept verbatim, so a View may hold a name
// that is not one of the constants below.
type View string

const (
	ViewLogin           View = "login"
	ViewUpload          View = "upload"
	ViewRoles           View = "roles"
	ViewCongratulations View = "congratulations"
	ViewDashboard       View = "dashboard"
)

// TabProfile is the dashboard tab shown after a successful profile check
const TabProfile = "profile"

// Known reports whether v is one of the views the navigator renders
func (v View) Known() bool {
	switch v {
	case ViewLogin, ViewUpload, ViewRoles, ViewCongratulations, ViewDashboard:
		return true
	}
	return false
}

// NavigationState is the pair mirrored into the URL and local storage
type NavigationState struct {
	View View   `json:"view"`
	Tab  string `json:"tab"`
}

// DefaultNavigationState is used when neither URL nor storage say anything
func DefaultNavigationState() NavigationState {
	return NavigationState{View: ViewLogin, Tab: TabProfile}
}

// LoadingState distinguishes the two asynchronous waits of the navigator
type LoadingState string

const (
	LoadingNone            LoadingState = "none"
	LoadingAuthenticating  LoadingState = "authenticating"
	LoadingCheckingProfile LoadingState = "checking-profile"
)

// Identity is the serialized session identity kept under the "user" key
type Identity struct {
	Email             string `json:"email"`
	DisplayName       string `json:"displayName,omitempty"`
	AvatarURL         string `json:"avatarUrl,omitempty"`
	ProviderSubjectID string `json:"uid,omitempty"`
}

// User is the account object returned by the backend auth endpoints
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username,omitempty"`
	Email            string `json:"email"`
	Name             string `json:"name,omitempty"`
	AuthProvider     string `json:"auth_provider,omitempty"`
	Picture          string `json:"picture,omitempty"`
	ProfileCompleted bool   `json:"profile_completed"`
}

// Identity converts a backend user into a session identity
func (u User) Identity() Identity {
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return Identity{
		Email:             u.Email,
		DisplayName:       name,
		AvatarURL:         u.Picture,
		ProviderSubjectID: u.ID,
	}
}

// AuthResponse is returned by register, login and federated exchange
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        User   `json:"user"`
}

// RegisterRequest is the body of POST /api/auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FederatedAuthRequest is the body of POST /api/auth/firebase
type FederatedAuthRequest struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

// Subsection is one titled block of bullet lines inside a section
type Subsection struct {
	Title string   `json:"title"`
	Data  []string `json:"data"`
}

// Section is one named part of a parsed resume
type Section struct {
	SectionName string       `json:"section_name"`
	Subsections []Subsection `json:"subsections"`
}

// ResumeData is the structured resume stored with a profile
type ResumeData struct {
	Sections []Section `json:"sections"`
}

// Profile is the backend-persisted profile of one user
type Profile struct {
	Email         string          `json:"email,omitempty"`
	ProfileData   json.RawMessage `json:"profileData,omitempty"`
	SelectedRoles []string        `json:"selectedRoles,omitempty"`
	ResumeData    *ResumeData     `json:"resumeData,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// HasSections reports whether the profile carries a non-empty section list
func (p *Profile) HasSections() bool {
	return p != nil && p.ResumeData != nil && len(p.ResumeData.Sections) > 0
}

// SaveProfileRequest is the body of POST /api/save-user-profile
type SaveProfileRequest struct {
	Email         string          `json:"email"`
	ProfileData   json.RawMessage `json:"profileData"`
	SelectedRoles []string        `json:"selectedRoles"`
}

// UploadResult is returned by POST /api/upload-resume
type UploadResult struct {
	ExtractedData json.RawMessage `json:"extractedData"`
}

// OnboardingDraft is collected by the upload and roles steps and only
// lives in memory until the profile is saved.
type OnboardingDraft struct {
	Resume        ResumeData `json:"resumeData"`
	SelectedRoles []string   `json:"selectedRoles,omitempty"`
}

// ParseExtractedData validates the extractedData returned by the upload
// endpoint and normalizes missing titles and bullet lists.
func ParseExtractedData(raw json.RawMessage) (*ResumeData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("no extracted data received from server")
	}
	var payload struct {
		Sections []struct {
			SectionName string `json:"section_name"`
			Subsections []struct {
				Title string   `json:"title"`
				Data  []string `json:"data"`
			} `json:"subsections"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid resume data structure received: %w", err)
	}
	if payload.Sections == nil {
		return nil, fmt.Errorf("invalid resume data structure received: missing sections")
	}

	out := &ResumeData{Sections: make([]Section, 0, len(payload.Sections))}
	for i, sec := range payload.Sections {
		if sec.SectionName == "" {
			return nil, fmt.Errorf("section %d missing section_name", i)
		}
		if sec.Subsections == nil {
			return nil, fmt.Errorf("section %q missing subsections array", sec.SectionName)
		}
		section := Section{SectionName: sec.SectionName, Subsections: make([]Subsection, 0, len(sec.Subsections))}
		for _, sub := range sec.Subsections {
			data := sub.Data
			if data == nil {
				data = []string{}
			}
			section.Subsections = append(section.Subsections, Subsection{Title: sub.Title, Data: data})
		}
		out.Sections = append(out.Sections, section)
	}
	return out, nil
}

// CompileLatexRequest is the body of POST /api/compile-latex
type CompileLatexRequest struct {
	Content string `json:"content"`
	Email   string `json:"email"`
}

// CompileLatexResult is returned by POST /api/compile-latex
type CompileLatexResult struct {
	PDFURL string `json:"pdfUrl"`
}

// LatexTemplate is returned by GET /api/default-latex-template
type LatexTemplate struct {
	Content string `json:"content"`
}

// Draft is a saved LaTeX draft
type Draft struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Document is a binary artifact (PDF, DOCX, HTML preview) produced by the backend
type Document struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Extension guesses a file extension from the content type
func (d Document) Extension() string {
	ct := strings.ToLower(d.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return ".pdf"
	case strings.Contains(ct, "wordprocessingml"), strings.Contains(ct, "msword"):
		return ".docx"
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.Contains(ct, "json"):
		return ".json"
	default:
		return ".bin"
	}
}

// HealthStatus is returned by GET /health
type HealthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SessionStatus summarizes the local session for the status command
type SessionStatus struct {
	Identity       *Identity       `json:"identity,omitempty"`
	AuthMethod     AuthMethod      `json:"authMethod"`
	Navigation     NavigationState `json:"navigation"`
	Loading        LoadingState    `json:"loading"`
	TokenSubject   string          `json:"tokenSubject,omitempty"`
	TokenExpiresAt string          `json:"tokenExpiresAt,omitempty"`
	TokenExpired   bool            `json:"tokenExpired,omitempty"`
}

// DraftList wraps drafts for formatting
type DraftList struct {
	Email  string  `json:"email"`
	Drafts []Draft `json:"drafts"`
}

// GenerateRequest is the JSON body of the standard generate/preview endpoints
// and of POST /api/generate-from-template
type GenerateRequest struct {
	Email      string          `json:"email"`
	Format     string          `json:"format,omitempty"` // "pdf" or "docx"
	TemplateID string          `json:"templateId,omitempty"`
	Data       json.RawMessage `json:"profileData,omitempty"`
}

// Template is a user-uploaded document template listed by GET /api/templates/{email}
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// UploadFile is a file sent as a multipart part
type UploadFile struct {
	Name string
	Data []byte
}
