package api

import (
	"context"
	"net/http"
)

// GameProfile is a remote container for one game's save versions.
type GameProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// ListGameProfiles returns every profile of the signed-in account.
func (c *Client) ListGameProfiles(ctx context.Context) ([]GameProfile, error) {
	var out []GameProfile
	if err := c.doJSON(ctx, &request{
		method: http.MethodGet,
		path:   "/api/devices/game-profiles",
	}, nil, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// CreateGameProfile creates a profile. Creation is not idempotent on the
// server, so only refusals before processing are retried.
func (c *Client) CreateGameProfile(ctx context.Context, name, platform string) (*GameProfile, error) {
	body := struct {
		Name     string `json:"name"`
		Platform string `json:"platform"`
	}{Name: name, Platform: platform}

	var out GameProfile
	if err := c.doJSON(ctx, &request{
		method: http.MethodPost,
		path:   "/api/devices/game-profiles",
		retry:  retryRejected,
	}, body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
