package api

import (
	"context"
	"encoding/json"
	"net/http"

	"resumeunlocked/internal/types"
)

// UploadResume sends a resume file for extraction
func (c *Client) UploadResume(ctx context.Context, file types.UploadFile, userID string) (*types.UploadResult, error) {
	body, contentType, err := c.multipartForm("file", file, map[string]string{"userId": userID})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/upload-resume",
		endpoint:    "resume.upload",
		body:        body,
		contentType: contentType,
		accept:      "application/json",
	})
	if err != nil {
		return nil, err
	}
	var out types.UploadResult
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProfile fetches the stored profile; a missing profile is a 404 *Error
func (c *Client) GetProfile(ctx context.Context, email string) (*types.Profile, error) {
	var out types.Profile
	if err := c.getJSON(ctx, "/api/user-profile/"+pathEscape(email), "profile.get", &out); err != nil {
		return nil, err
	}
	if out.Email == "" {
		out.Email = email
	}
	return &out, nil
}

// SaveProfile stores the onboarding result
func (c *Client) SaveProfile(ctx context.Context, email string, profileData json.RawMessage, selectedRoles []string) error {
	if selectedRoles == nil {
		selectedRoles = []string{}
	}
	return c.sendJSON(ctx, http.MethodPost, "/api/save-user-profile", "profile.save",
		types.SaveProfileRequest{Email: email, ProfileData: profileData, SelectedRoles: selectedRoles}, nil)
}

// UpdateProfile replaces the profile data
func (c *Client) UpdateProfile(ctx context.Context, email string, profileData json.RawMessage) error {
	return c.sendJSON(ctx, http.MethodPut, "/api/user-profile/"+pathEscape(email), "profile.update",
		map[string]json.RawMessage{"profileData": profileData}, nil)
}

// UpdateRoles replaces the selected roles
func (c *Client) UpdateRoles(ctx context.Context, email string, selectedRoles []string) error {
	if selectedRoles == nil {
		selectedRoles = []string{}
	}
	return c.sendJSON(ctx, http.MethodPut, "/api/user-profile/"+pathEscape(email)+"/roles", "profile.roles",
		map[string][]string{"selectedRoles": selectedRoles}, nil)
}

// DeleteProfile removes the profile
func (c *Client) DeleteProfile(ctx context.Context, email string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/user-profile/"+pathEscape(email), "profile.delete", nil, nil)
}
