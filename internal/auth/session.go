// Package auth holds the device session: the token issued when this machine
// was registered, its expiry, and the account it belongs to. Exactly one
// token is in effect at a time and refreshes are serialized.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/saveknight/saveknight-go/internal/api"
	"github.com/saveknight/saveknight-go/internal/tokenfile"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotAuthenticated  = errors.New("auth: not authenticated")
	ErrInvalidCredential = errors.New("auth: session cookie rejected")
	ErrTokenRejected     = errors.New("auth: device token rejected, signed out")
	ErrRefreshFailed     = errors.New("auth: token refresh failed")
	ErrLoginInProgress   = errors.New("auth: login already in progress")
)

// Defaults for Config.
const (
	DefaultRefreshThreshold = 5 * time.Minute
	defaultRefreshTimeout   = 30 * time.Second
)

// State is the session lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the externally visible part of the session.
type Status struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	DeviceID        string `json:"device_id,omitempty"`
	DeviceName      string `json:"device_name,omitempty"`
	UserEmail       string `json:"user_email,omitempty"`
	PlanName        string `json:"plan_name,omitempty"`
}

// TokenStore persists the device token between runs.
type TokenStore interface {
	Save(tok *oauth2.Token, meta map[string]string) error
	Load() (*oauth2.Token, map[string]string, error)
	Clear() error
}

// Remote is the part of the service API the session talks to.
type Remote interface {
	RegisterDevice(ctx context.Context, sessionCookie string, req api.RegisterRequest) (*api.DeviceToken, error)
	RefreshDevice(ctx context.Context, token string) (*api.DeviceToken, error)
	Me(ctx context.Context, token string) (*api.Me, error)
}

// Config tunes a Session.
type Config struct {
	// RefreshThreshold is how close to expiry a token is refreshed.
	RefreshThreshold time.Duration
	MachineID        string
	DeviceType       string
}

// Session is the process-wide device session. It is safe for concurrent
// use; Token may be called from any number of goroutines.
type Session struct {
	remote Remote
	store  TokenStore
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	state  State
	token  *oauth2.Token
	status Status
	gen    uint64 // bumped whenever the token in effect is replaced or cleared

	refreshes singleflight.Group
	nowFunc   func() time.Time
}

// NewSession creates an unauthenticated session.
func NewSession(remote Remote, store TokenStore, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}

	return &Session{
		remote:  remote,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// Login registers this device with a web session cookie and becomes
// Authenticated. On failure the previous session is left untouched and
// nothing is persisted.
func (s *Session) Login(ctx context.Context, sessionCookie, deviceName string) (Status, error) {
	s.mu.Lock()
	if s.state == Authenticating {
		s.mu.Unlock()
		return Status{}, ErrLoginInProgress
	}

	prevState := s.state
	s.state = Authenticating
	s.mu.Unlock()

	fail := func(err error) (Status, error) {
		s.mu.Lock()
		s.state = prevState
		s.mu.Unlock()

		s.logger.Warn("device login failed", slog.String("error", err.Error()))

		return Status{}, err
	}

	dt, err := s.remote.RegisterDevice(ctx, sessionCookie, api.RegisterRequest{
		DeviceName: deviceName,
		MachineID:  s.cfg.MachineID,
		DeviceType: s.cfg.DeviceType,
	})
	if err != nil {
		if api.IsRejection(err) {
			return fail(fmt.Errorf("%w: %w", ErrInvalidCredential, err))
		}

		return fail(fmt.Errorf("auth: registering device: %w", err))
	}

	me, err := s.remote.Me(ctx, dt.Token)
	if err != nil {
		return fail(fmt.Errorf("auth: fetching account: %w", err))
	}

	tok := newToken(dt)
	status := statusFrom(dt.DeviceID, deviceName, me)

	if err := s.store.Save(tok, metaFrom(status)); err != nil {
		return fail(fmt.Errorf("auth: persisting token: %w", err))
	}

	s.mu.Lock()
	s.install(tok, status)
	s.mu.Unlock()

	s.logger.Info("device registered",
		slog.String("device_id", status.DeviceID),
		slog.String("device_name", deviceName),
	)

	return status, nil
}

// Restore loads the persisted token and validates it with the service.
// Missing, corrupt, expired or rejected tokens leave the session
// Unauthenticated without an error; rejected and expired tokens are also
// removed. A transient failure keeps the stored token for the next start.
func (s *Session) Restore(ctx context.Context) Status {
	tok, meta, err := s.store.Load()
	if err != nil {
		s.logger.Warn("stored device token is unreadable, clearing", slog.String("error", err.Error()))
		s.clearStore()

		return Status{}
	}

	if tok == nil {
		return Status{}
	}

	if !tok.Expiry.IsZero() && !s.nowFunc().Before(tok.Expiry) {
		s.logger.Info("stored device token has expired")
		s.clearStore()

		return Status{}
	}

	me, err := s.remote.Me(ctx, tok.AccessToken)
	if err != nil {
		if api.IsRejection(err) {
			s.logger.Info("stored device token was revoked")
			s.clearStore()
		} else {
			s.logger.Warn("cannot validate stored device token", slog.String("error", err.Error()))
		}

		return Status{}
	}

	status := statusFrom(meta[tokenfile.MetaDeviceID], meta[tokenfile.MetaDeviceName], me)

	s.mu.Lock()
	s.install(tok, status)
	s.mu.Unlock()

	s.logger.Debug("device session restored", slog.String("device_id", status.DeviceID))

	return status
}

// Token returns a valid device token, refreshing it first when it is within
// the refresh threshold of expiry. Concurrent callers share one refresh.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()

	if tok == nil {
		return "", ErrNotAuthenticated
	}

	if !s.needsRefresh(tok) {
		return tok.AccessToken, nil
	}

	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		// The refresh outlives any one caller; each caller still stops
		// waiting when its own ctx ends.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRefreshTimeout)
		defer cancel()

		return s.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok, gen := s.token, s.gen

	switch {
	case tok == nil:
		s.mu.Unlock()
		return "", ErrNotAuthenticated
	case !s.needsRefresh(tok):
		// Another caller's refresh finished first.
		s.mu.Unlock()
		return tok.AccessToken, nil
	}

	s.state = Refreshing
	s.mu.Unlock()

	s.logger.Debug("refreshing device token", slog.Time("expiry", tok.Expiry))

	dt, err := s.remote.RefreshDevice(ctx, tok.AccessToken)
	if err != nil {
		return "", s.refreshFailed(gen, tok, err)
	}

	next := newToken(dt)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return "", ErrNotAuthenticated
	}

	if dt.DeviceID != "" {
		s.status.DeviceID = dt.DeviceID
	}

	s.token = next
	s.state = Authenticated
	s.gen++
	status := s.status
	s.mu.Unlock()

	if err := s.store.Save(next, metaFrom(status)); err != nil {
		s.logger.Warn("cannot persist refreshed device token", slog.String("error", err.Error()))
	}

	s.logger.Info("device token refreshed", slog.Time("expiry", next.Expiry))

	return next.AccessToken, nil
}

func (s *Session) refreshFailed(gen uint64, tok *oauth2.Token, err error) error {
	if api.IsRejection(err) {
		s.mu.Lock()
		if s.gen == gen {
			s.reset()
		}
		s.mu.Unlock()

		s.clearStore()
		s.logger.Warn("device token rejected during refresh, signed out")

		return fmt.Errorf("%w: %w", ErrTokenRejected, err)
	}

	s.mu.Lock()
	if s.gen == gen {
		if !tok.Expiry.IsZero() && !s.nowFunc().Before(tok.Expiry) {
			s.state = Expired
		} else {
			s.state = Authenticated
		}
	}
	s.mu.Unlock()

	s.logger.Warn("device token refresh failed", slog.String("error", err.Error()))

	return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}

// Logout forgets the token in memory and on disk. It is idempotent.
func (s *Session) Logout() error {
	s.mu.Lock()
	wasAuthenticated := s.token != nil
	s.reset()
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("auth: clearing stored token: %w", err)
	}

	if wasAuthenticated {
		s.logger.Info("signed out")
	}

	return nil
}

func (s *Session) needsRefresh(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}

	return !s.nowFunc().Add(s.cfg.RefreshThreshold).Before(tok.Expiry)
}

// install makes tok the token in effect. Caller holds mu.
func (s *Session) install(tok *oauth2.Token, status Status) {
	s.token = tok
	s.status = status
	s.state = Authenticated
	s.gen++
}

// reset clears the session. Caller holds mu.
func (s *Session) reset() {
	s.token = nil
	s.status = Status{}
	s.state = Unauthenticated
	s.gen++
}

func (s *Session) clearStore() {
	if err := s.store.Clear(); err != nil {
		s.logger.Warn("cannot remove stored device token", slog.String("error", err.Error()))
	}
}

func newToken(dt *api.DeviceToken) *oauth2.Token {
	expiry := dt.Expiry()
	if expiry.IsZero() {
		expiry = claimsExpiry(dt.Token)
	}

	return &oauth2.Token{AccessToken: dt.Token, TokenType: "Bearer", Expiry: expiry}
}

func statusFrom(deviceID, deviceName string, me *api.Me) Status {
	st := Status{
		IsAuthenticated: true,
		DeviceID:        deviceID,
		DeviceName:      deviceName,
		UserEmail:       me.User.Email,
		PlanName:        me.Subscription.PlanName,
	}

	if st.DeviceID == "" {
		st.DeviceID = me.Device.ID
	}

	if st.DeviceName == "" {
		st.DeviceName = me.Device.Name
	}

	return st
}

func metaFrom(st Status) map[string]string {
	meta := map[string]string{}

	for k, v := range map[string]string{
		tokenfile.MetaDeviceID:   st.DeviceID,
		tokenfile.MetaDeviceName: st.DeviceName,
		tokenfile.MetaUserEmail:  st.UserEmail,
		tokenfile.MetaPlanName:   st.PlanName,
	} {
		if v != "" {
			meta[k] = v
		}
	}

	return meta
}
