package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Credentials accepted by FakeAPI.
const (
	FakeCookie = "fake-browser-session"
	FakeToken  = "fake-device-token"
)

// FakeProfile is a game profile held by FakeAPI.
type FakeProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Platform string `json:"platform"`
}

// FakeUpload is one accepted save upload.
type FakeUpload struct {
	ProfileID string
	SlotName  string
	LocalPath string
	FileName  string
	Checksum  string
	Size      int64
	Version   int
}

// FakeAPI is an in-memory backup service covering device registration,
// account lookup, game profiles and save uploads.
type FakeAPI struct {
	*httptest.Server

	mu       sync.Mutex
	profiles []FakeProfile
	creates  int
	uploads  []FakeUpload
	failing  map[string]int // profile id -> status returned for uploads
}

// StartFakeAPI starts a FakeAPI. Call Close when done.
func StartFakeAPI() *FakeAPI {
	f := &FakeAPI{failing: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))

	return f
}

// SeedProfile adds an existing profile and returns its id.
func (f *FakeAPI) SeedProfile(name, platform string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := fmt.Sprintf("seed-%d", len(f.profiles)+1)
	f.profiles = append(f.profiles, FakeProfile{ID: id, Name: name, Platform: platform})

	return id
}

// FailUploads makes every upload to profileID answer with status.
func (f *FakeAPI) FailUploads(profileID string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failing[profileID] = status
}

// Profiles returns the current profiles.
func (f *FakeAPI) Profiles() []FakeProfile {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]FakeProfile{}, f.profiles...)
}

// Creates counts profile creations, not including seeded profiles.
func (f *FakeAPI) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.creates
}

// Uploads returns the accepted uploads in arrival order.
func (f *FakeAPI) Uploads() []FakeUpload {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]FakeUpload(nil), f.uploads...)
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/devices/register" && r.Method == http.MethodPost {
		f.register(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+FakeToken {
		writeError(w, http.StatusUnauthorized, "invalid device token")
		return
	}

	switch {
	case r.URL.Path == "/api/devices/me":
		writeJSON(w, map[string]any{
			"device":       map[string]string{"id": "fake-device", "name": "fake"},
			"user":         map[string]string{"id": "u1", "email": "player@example.com"},
			"subscription": map[string]string{"plan_name": "Free"},
		})

	case r.URL.Path == "/api/devices/refresh" && r.Method == http.MethodPost:
		writeJSON(w, newDeviceToken())

	case r.URL.Path == "/api/devices/game-profiles" && r.Method == http.MethodGet:
		writeJSON(w, f.Profiles())

	case r.URL.Path == "/api/devices/game-profiles" && r.Method == http.MethodPost:
		f.createProfile(w, r)

	case strings.HasPrefix(r.URL.Path, "/api/devices/upload/") && r.Method == http.MethodPost:
		f.upload(w, r, strings.TrimPrefix(r.URL.Path, "/api/devices/upload/"))

	default:
		writeError(w, http.StatusNotFound, "no route")
	}
}

func (f *FakeAPI) register(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie("connect.sid")
	if err != nil || c.Value != FakeCookie {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	writeJSON(w, newDeviceToken())
}

func newDeviceToken() map[string]string {
	return map[string]string{
		"device_id":  "fake-device",
		"token":      FakeToken,
		"expires_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func (f *FakeAPI) createProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Platform string `json:"platform"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	f.mu.Lock()
	f.creates++
	p := FakeProfile{ID: fmt.Sprintf("gp-%d", f.creates), Name: body.Name, Platform: body.Platform}
	f.profiles = append(f.profiles, p)
	f.mu.Unlock()

	writeJSON(w, p)
}

func (f *FakeAPI) upload(w http.ResponseWriter, r *http.Request, profileID string) {
	f.mu.Lock()
	status := f.failing[profileID]
	f.mu.Unlock()

	if status != 0 {
		writeError(w, status, "upload rejected")
		return
	}

	file, hdr, err := r.FormFile("saveFile")
	if err != nil {
		writeError(w, http.StatusBadRequest, "saveFile is required")
		return
	}
	defer file.Close()

	h := sha256.New()

	n, err := io.Copy(h, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading saveFile")
		return
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if sum != r.FormValue("checksum") {
		writeError(w, http.StatusUnprocessableEntity, "checksum mismatch")
		return
	}

	f.mu.Lock()
	version := 1
	for _, u := range f.uploads {
		if u.ProfileID == profileID {
			version++
		}
	}

	f.uploads = append(f.uploads, FakeUpload{
		ProfileID: profileID,
		SlotName:  r.FormValue("slotName"),
		LocalPath: r.FormValue("localPath"),
		FileName:  hdr.Filename,
		Checksum:  sum,
		Size:      n,
		Version:   version,
	})
	uploadID := fmt.Sprintf("up-%d", len(f.uploads))
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"success":   true,
		"upload_id": uploadID,
		"checksum":  sum,
		"save_version": map[string]any{
			"id":             fmt.Sprintf("sv-%s-%d", profileID, version),
			"version_number": version,
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
