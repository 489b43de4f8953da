package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) {
	return "", errors.New("not signed in")
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token TokenSource) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), token, "saveknight-test", nil)
	c.sleepFunc = noSleep

	return c
}

func TestRegisterDevice_SendsCookieAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/devices/register", r.URL.Path)
		assert.Equal(t, "connect.sid=sess-1", r.Header.Get("Cookie"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "saveknight-test", r.Header.Get("User-Agent"))

		var body RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, RegisterRequest{DeviceName: "Desk", MachineID: "m-1", DeviceType: "linux"}, body)

		_, _ = io.WriteString(w, `{"device_id":"dev_1","token":"tok","expires_at":"2030-01-02T03:04:05Z"}`)
	}, nil)

	dt, err := c.RegisterDevice(t.Context(), "sess-1", RegisterRequest{DeviceName: "Desk", MachineID: "m-1", DeviceType: "linux"})
	require.NoError(t, err)
	assert.Equal(t, "dev_1", dt.DeviceID)
	assert.Equal(t, "tok", dt.Token)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), dt.Expiry())
}

func TestRegisterDevice_RejectedCookie(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Request-Id", "req-9")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Not authenticated"}`)
	}, nil)

	_, err := c.RegisterDevice(t.Context(), "stale", RegisterRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsRejection(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-9", apiErr.RequestID)
	assert.Equal(t, "Not authenticated", apiErr.Message)
}

func TestRegisterDevice_EmptyCookie(t *testing.T) {
	c := NewClient("http://unused.invalid", nil, nil, "", nil)

	_, err := c.RegisterDevice(t.Context(), "", RegisterRequest{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMe_UsesExplicitBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer explicit", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{
			"device":{"id":"dev_1","name":"Desk"},
			"user":{"id":"u1","email":"player@example.com","first_name":"Sam"},
			"subscription":{"plan_name":"Pro"}
		}`)
	}, staticToken("session"))

	me, err := c.Me(t.Context(), "explicit")
	require.NoError(t, err)
	assert.Equal(t, "player@example.com", me.User.Email)
	assert.Equal(t, "Pro", me.Subscription.PlanName)
	assert.Equal(t, "dev_1", me.Device.ID)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		_, _ = io.WriteString(w, `[{"id":"p1","name":"Celeste","platform":"PC"}]`)
	}, staticToken("tok"))

	profiles, err := c.ListGameProfiles(t.Context())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Celeste", profiles[0].Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, staticToken("tok"))

	_, err := c.ListGameProfiles(t.Context())
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestPost_NotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, staticToken("tok"))

	_, err := c.CreateGameProfile(t.Context(), "Celeste", "PC")
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPost_RetriedWhenThrottled(t *testing.T) {
	var (
		calls  atomic.Int32
		slept  []time.Duration
		bodies []string
	)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))

		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"p9","name":"Celeste","platform":"PC"}`)
	}, staticToken("tok"))

	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	p, err := c.CreateGameProfile(t.Context(), "Celeste", "PC")
	require.NoError(t, err)
	assert.Equal(t, "p9", p.ID)
	assert.Equal(t, []time.Duration{7 * time.Second}, slept)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1], "the JSON body is replayed")
	assert.JSONEq(t, `{"name":"Celeste","platform":"PC"}`, bodies[1])
}

func TestTokenSourceFailure(t *testing.T) {
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("request must not be sent without a token")
	}, failingToken{})

	_, err := c.ListGameProfiles(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

type countingFailToken struct{ calls int }

func (c *countingFailToken) Token(context.Context) (string, error) {
	c.calls++
	return "", errors.New("not signed in")
}

func TestTokenSourceFailure_NotRetried(t *testing.T) {
	tok := &countingFailToken{}
	c := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("request must not be sent without a token")
	}, tok)

	_, err := c.ListGameProfiles(t.Context())
	require.Error(t, err)
	assert.Equal(t, 1, tok.calls)
}

func TestCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, staticToken("tok"))

	ctx, cancel := context.WithCancel(t.Context())
	c.sleepFunc = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := c.ListGameProfiles(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadSave_Multipart(t *testing.T) {
	archive := []byte("PK\x03\x04 fake zip bytes")
	sum := sha256.Sum256(archive)
	checksum := hex.EncodeToString(sum[:])

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/upload/prof%201", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Celeste Auto-Backup", r.FormValue("slotName"))
		assert.Equal(t, "/home/u/.local/share/Celeste", r.FormValue("localPath"))
		assert.Equal(t, checksum, r.FormValue("checksum"))

		f, hdr, err := r.FormFile("saveFile")
		require.NoError(t, err)
		defer f.Close()

		assert.Equal(t, "Celeste.zip", hdr.Filename)
		assert.Equal(t, "application/zip", hdr.Header.Get("Content-Type"))

		got, _ := io.ReadAll(f)
		assert.Equal(t, archive, got)

		_, _ = io.WriteString(w, `{"success":true,"upload_id":"up_1","checksum":"`+checksum+`","save_version":{"id":"sv_1","version_number":4}}`)
	}, staticToken("tok"))

	res, err := c.UploadSave(t.Context(), "prof 1", UploadRequest{
		SlotName:  "Celeste Auto-Backup",
		LocalPath: "/home/u/.local/share/Celeste",
		Checksum:  checksum,
		FileName:  "Celeste.zip",
		Body:      strings.NewReader(string(archive)),
	})
	require.NoError(t, err)
	assert.Equal(t, &UploadResult{UploadID: "up_1", SaveVersionID: "sv_1", VersionNumber: 4}, res)
}

func TestUploadSave_IntegrityFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"unprocessable", http.StatusUnprocessableEntity, `{"error":"checksum mismatch"}`, "checksum mismatch"},
		{"success false", http.StatusOK, `{"success":false,"message":"corrupt archive"}`, "corrupt archive"},
		{"echoed checksum differs", http.StatusOK, `{"success":true,"checksum":"beef"}`, "service stored beef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, staticToken("tok"))

			_, err := c.UploadSave(t.Context(), "p1", UploadRequest{Checksum: "abc", FileName: "x.zip", Body: strings.NewReader("zip")})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrChecksumMismatch)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestUploadSave_NotRetried(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, staticToken("tok"))

	_, err := c.UploadSave(t.Context(), "p1", UploadRequest{Checksum: "abc", FileName: "x.zip", Body: strings.NewReader("zip")})
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusUnprocessableEntity, ErrUnprocessable},
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusTeapot, ErrBadRequest},
		{http.StatusBadGateway, ErrServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyStatus(tt.code), "status %d", tt.code)
	}
}

func TestCalcBackoffBounds(t *testing.T) {
	c := NewClient("http://x.invalid", nil, nil, "", nil)

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "Half-Life_ Alyx", SanitizeFileName("Half-Life: Alyx"))
	assert.Equal(t, "a_b_c", SanitizeFileName("a/b\\c"))
}
