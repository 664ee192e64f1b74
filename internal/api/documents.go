package api

import (
	"context"
	"net/http"

	"resumeunlocked/internal/types"
)

// CompileLatex compiles LaTeX source and returns where the PDF can be fetched
func (c *Client) CompileLatex(ctx context.Context, email, content string) (*types.CompileLatexResult, error) {
	var out types.CompileLatexResult
	err := c.sendJSON(ctx, http.MethodPost, "/api/compile-latex", "latex.compile",
		types.CompileLatexRequest{Content: content, Email: email}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DefaultLatexTemplate returns the starter LaTeX document
func (c *Client) DefaultLatexTemplate(ctx context.Context) (*types.LatexTemplate, error) {
	var out types.LatexTemplate
	if err := c.getJSON(ctx, "/api/default-latex-template", "latex.template", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveDraft stores a LaTeX draft and returns it as saved
func (c *Client) SaveDraft(ctx context.Context, draft types.Draft) (*types.Draft, error) {
	out := draft
	if err := c.sendJSON(ctx, http.MethodPost, "/api/save-draft", "drafts.save", draft, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDrafts returns the user's drafts. The backend answers either a bare
// list or {"drafts": [...]}.
func (c *Client) ListDrafts(ctx context.Context, email string) ([]types.Draft, error) {
	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/api/drafts/" + pathEscape(email),
		endpoint: "drafts.list",
		accept:   "application/json",
	})
	if err != nil {
		return nil, err
	}

	var list []types.Draft
	if err := decode(resp, &list); err == nil {
		return list, nil
	}
	var wrapped types.DraftList
	if err := decode(resp, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Drafts, nil
}

// GetDraft fetches one draft
func (c *Client) GetDraft(ctx context.Context, id string) (*types.Draft, error) {
	var out types.Draft
	if err := c.getJSON(ctx, "/api/draft/"+pathEscape(id), "drafts.get", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDraft removes one draft
func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/draft/"+pathEscape(id), "drafts.delete", nil, nil)
}

// GenerateStandardResume renders the stored profile with the built-in layout
func (c *Client) GenerateStandardResume(ctx context.Context, req types.GenerateRequest) (*types.Document, error) {
	return c.sendForDocument(ctx, "/api/generate-standard-resume", "documents.generate_standard", req)
}

// PreviewStandardResume renders a preview with the built-in layout
func (c *Client) PreviewStandardResume(ctx context.Context, req types.GenerateRequest) (*types.Document, error) {
	return c.sendForDocument(ctx, "/api/preview-standard-resume", "documents.preview_standard", req)
}

// GenerateResume fills an uploaded template with the stored profile
func (c *Client) GenerateResume(ctx context.Context, template types.UploadFile, req types.GenerateRequest) (*types.Document, error) {
	return c.sendTemplateForm(ctx, "/api/generate-resume", "documents.generate", template, req)
}

// PreviewResume previews an uploaded template filled with the stored profile
func (c *Client) PreviewResume(ctx context.Context, template types.UploadFile, req types.GenerateRequest) (*types.Document, error) {
	return c.sendTemplateForm(ctx, "/api/preview-resume", "documents.preview", template, req)
}

// Templates lists the templates saved for email
func (c *Client) Templates(ctx context.Context, email string) ([]types.Template, error) {
	var out []types.Template
	if err := c.getJSON(ctx, "/api/templates/"+pathEscape(email), "documents.templates", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateFromTemplate renders a saved template
func (c *Client) GenerateFromTemplate(ctx context.Context, req types.GenerateRequest) (*types.Document, error) {
	return c.sendForDocument(ctx, "/api/generate-from-template", "documents.from_template", req)
}

// ResolveLink fetches the public rendering of a shared resume
func (c *Client) ResolveLink(ctx context.Context, code string) (*types.Document, error) {
	resp, err := c.do(ctx, request{
		method:   http.MethodGet,
		path:     "/resume/" + pathEscape(code),
		endpoint: "resume.public",
		accept:   "text/html",
	})
	if err != nil {
		return nil, err
	}
	return documentFrom(resp), nil
}

func (c *Client) sendTemplateForm(ctx context.Context, path, endpoint string, template types.UploadFile, req types.GenerateRequest) (*types.Document, error) {
	fields := map[string]string{"email": req.Email}
	if req.Format != "" {
		fields["format"] = req.Format
	}
	if len(req.Data) > 0 {
		fields["profileData"] = string(req.Data)
	}
	body, contentType, err := c.multipartForm("template", template, fields)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		endpoint:    endpoint,
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}
	return documentFrom(resp), nil
}
