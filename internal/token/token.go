// Package token owns the in-memory access token, its expiry estimate and the
// single-flight refresh path.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/savorly/partnerlink/internal/keychain"
	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

// expiryBuffer is subtracted from the exp claim before comparison, so a token
// is treated as expired five minutes before the server would reject it.
const expiryBuffer = 5 * time.Minute

var (
	// ErrNotAuthenticated is returned when no refresh token is stored.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshFailed wraps refresh endpoint failures. Callers treat it the
	// same as a token-expired signal and tear the session down.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Refresher exchanges a refresh token for a fresh token pair.
type Refresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (types.AuthTokens, error)
}

// Coordinator keeps the access token in memory (with a keychain mirror for
// cold starts) and serializes concurrent refresh attempts into one network
// call.
type Coordinator struct {
	store     keychain.Store
	refresher Refresher
	now       func() time.Time

	mu          sync.Mutex
	initialized bool
	accessToken string
	expiry      time.Time
	hasExpiry   bool

	flight singleflight.Group
}

// New creates a coordinator backed by the given store and refresher.
func New(store keychain.Store, refresher Refresher) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		now:       time.Now,
	}
}

// Initialize loads a previously persisted access token into memory. It is
// idempotent and safe to call multiple times.
func (c *Coordinator) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return
	}
	c.initialized = true

	token, ok := c.store.Get(keychain.KeyAccessToken)
	if !ok || token == "" {
		return
	}
	c.accessToken = token
	c.expiry, c.hasExpiry = expiresAt(token)
	logger.Debugf("token: restored access token from keychain")
}

// StoreTokens writes the access token to memory and the keychain, the refresh
// token to the keychain only, and recomputes the persisted session metadata.
func (c *Coordinator) StoreTokens(tokens types.AuthTokens) error {
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return fmt.Errorf("incomplete token pair")
	}

	expiry, hasExpiry := expiresAt(tokens.AccessToken)

	c.mu.Lock()
	c.initialized = true
	c.accessToken = tokens.AccessToken
	c.expiry = expiry
	c.hasExpiry = hasExpiry
	now := c.now()
	c.mu.Unlock()

	if err := c.store.Set(keychain.KeyAccessToken, tokens.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if err := c.store.Set(keychain.KeyRefreshToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}

	meta := types.SessionMeta{
		IsAuthenticated: true,
		LastLoginTime:   &now,
	}
	if hasExpiry {
		meta.TokenExpiryTime = &expiry
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	if err := c.store.Set(keychain.KeyAuthMeta, string(encoded)); err != nil {
		return fmt.Errorf("persist session meta: %w", err)
	}
	return nil
}

// AccessToken returns the current access token, falling back to the keychain
// after a process restart.
func (c *Coordinator) AccessToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" {
		return c.accessToken, true
	}

	token, ok := c.store.Get(keychain.KeyAccessToken)
	if !ok || token == "" {
		return "", false
	}
	c.accessToken = token
	c.expiry, c.hasExpiry = expiresAt(token)
	return token, true
}

// IsExpired reports whether the access token is past (or within the safety
// buffer of) its exp claim. A token without a parsable exp claim is treated
// as expired.
func (c *Coordinator) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		// Cold start: consult the keychain mirror before judging.
		token, ok := c.store.Get(keychain.KeyAccessToken)
		if !ok || token == "" {
			return true
		}
		c.accessToken = token
		c.expiry, c.hasExpiry = expiresAt(token)
	}

	if !c.hasExpiry {
		return true
	}
	return !c.now().Before(c.expiry.Add(-expiryBuffer))
}

// Refresh exchanges the stored refresh token for a fresh pair. Concurrent
// callers share one in-flight network call and observe the same outcome; the
// flight is cleared (success or failure) before the next call may start a new
// one.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	value, err, shared := c.flight.Do("refresh", func() (any, error) {
		refreshToken, ok := c.store.Get(keychain.KeyRefreshToken)
		if !ok || refreshToken == "" {
			return nil, ErrNotAuthenticated
		}

		tokens, err := c.refresher.RefreshTokens(ctx, refreshToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		if err := c.StoreTokens(tokens); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}
		return tokens.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Debugf("token: refresh result shared with concurrent caller")
	}
	return value.(string), nil
}

// ClearAll wipes the in-memory token and every persisted session key.
func (c *Coordinator) ClearAll() error {
	c.mu.Lock()
	c.accessToken = ""
	c.expiry = time.Time{}
	c.hasExpiry = false
	c.mu.Unlock()

	var firstErr error
	for _, key := range []string{
		keychain.KeyAccessToken,
		keychain.KeyRefreshToken,
		keychain.KeyUserSnapshot,
		keychain.KeyAuthMeta,
	} {
		if err := c.store.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetUserSnapshot persists the serialized authenticated-user snapshot.
func (c *Coordinator) SetUserSnapshot(snapshotJSON string) error {
	return c.store.Set(keychain.KeyUserSnapshot, snapshotJSON)
}

// UserSnapshot returns the persisted user snapshot, if any.
func (c *Coordinator) UserSnapshot() (string, bool) {
	return c.store.Get(keychain.KeyUserSnapshot)
}

// SessionMeta returns the persisted auth-state metadata, if any.
func (c *Coordinator) SessionMeta() (types.SessionMeta, bool) {
	encoded, ok := c.store.Get(keychain.KeyAuthMeta)
	if !ok {
		return types.SessionMeta{}, false
	}
	var meta types.SessionMeta
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		logger.Warnf("token: corrupt session meta: %v", err)
		return types.SessionMeta{}, false
	}
	return meta, true
}

// expiresAt extracts the exp claim from a JWT without verifying its
// signature. This is a client-side estimate used for proactive refresh only;
// the server remains the source of truth for token validity.
func expiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
