package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RegisterRequest is the body of a device registration.
type RegisterRequest struct {
	DeviceName string `json:"deviceName"`
	MachineID  string `json:"machineId"`
	DeviceType string `json:"deviceType"`
}

// DeviceToken is the credential issued to a registered device.
type DeviceToken struct {
	DeviceID  string `json:"device_id"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Expiry parses ExpiresAt. It returns the zero time when the service did not
// send a usable timestamp.
func (d *DeviceToken) Expiry() time.Time {
	if d.ExpiresAt == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, d.ExpiresAt); err == nil {
			return t
		}
	}

	return time.Time{}
}

// Me is the account the device token belongs to.
type Me struct {
	Device struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"device"`
	User struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"user"`
	Subscription struct {
		PlanName string `json:"plan_name"`
	} `json:"subscription"`
}

// RegisterDevice exchanges a web session cookie for a device token.
func (c *Client) RegisterDevice(ctx context.Context, sessionCookie string, body RegisterRequest) (*DeviceToken, error) {
	if sessionCookie == "" {
		return nil, fmt.Errorf("%w: empty session cookie", ErrUnauthorized)
	}

	var out DeviceToken
	if err := c.doJSON(ctx, &request{
		method: http.MethodPost,
		path:   "/api/devices/register",
		cookie: sessionCookie,
		retry:  retryRejected,
	}, body, &out); err != nil {
		return nil, err
	}

	if out.Token == "" {
		return nil, errors.New("api: registration response carried no token")
	}

	return &out, nil
}

// RefreshDevice trades a still-valid device token for a new one.
func (c *Client) RefreshDevice(ctx context.Context, token string) (*DeviceToken, error) {
	var out DeviceToken
	if err := c.doJSON(ctx, &request{
		method: http.MethodPost,
		path:   "/api/devices/refresh",
		bearer: token,
		retry:  retryRejected,
	}, nil, &out); err != nil {
		return nil, err
	}

	if out.Token == "" {
		return nil, errors.New("api: refresh response carried no token")
	}

	return &out, nil
}

// Me validates token and returns the account it belongs to.
func (c *Client) Me(ctx context.Context, token string) (*Me, error) {
	var out Me
	if err := c.doJSON(ctx, &request{
		method: http.MethodGet,
		path:   "/api/devices/me",
		bearer: token,
	}, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}
