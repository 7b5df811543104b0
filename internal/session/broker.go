package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrRefreshFailed is terminal for the current session: all stored
// credentials have been cleared and the caller must re-authenticate.
var ErrRefreshFailed = errors.New("token refresh failed: re-authentication required")

// ErrNoRefreshToken is returned when a refresh is attempted with no stored
// refresh token.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// authPathSuffixes are excluded from 401 interception so wrong credentials on
// the authentication surface cannot trigger refresh loops.
var authPathSuffixes = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
}

// refreshResult is the shared future all concurrent callers of one refresh
// await. done is closed after token/err are set and the broker's in-flight
// slot has been released.
type refreshResult struct {
	done  chan struct{}
	token string
	err   error
}

// Broker wraps an HTTP client with bearer-token attachment and single-flight
// refresh-and-replay on unauthenticated responses.
//
// State machine per process: IDLE -> REFRESHING -> IDLE. At most one refresh
// network call is ever outstanding; concurrent 401s join the same in-flight
// future. The future is released on every exit path (success or failure)
// before any new refresh may start.
type Broker struct {
	client     *http.Client
	store      CredentialStore
	refreshURL string
	logger     *slog.Logger

	mu       sync.Mutex
	inflight *refreshResult
}

// NewBroker creates a broker around the given credential store.
// client may be nil, in which case a default client with a 30s timeout is used.
func NewBroker(client *http.Client, store CredentialStore, refreshURL string, logger *slog.Logger) *Broker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		client:     client,
		store:      store,
		refreshURL: refreshURL,
		logger:     logger,
	}
}

// Do sends the request with the current access token attached. On a 401 for a
// non-authentication endpoint it coordinates a single refresh and replays the
// request exactly once. A second 401 after replay is returned as-is.
func (b *Broker) Do(req *http.Request) (*http.Response, error) {
	if token := b.store.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || isAuthPath(req.URL.Path) {
		return resp, nil
	}

	// Requests with one-shot bodies cannot be replayed; surface the 401.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	if err := resp.Body.Close(); err != nil {
		b.logger.Debug("failed to close unauthorized response body", "error", err)
	}

	token, err := b.awaitRefresh(req.Context())
	if err != nil {
		return nil, err
	}

	replay := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		replay.Body = body
	}
	replay.Header.Set("Authorization", "Bearer "+token)

	return b.client.Do(replay)
}

// awaitRefresh joins the in-flight refresh if one exists, otherwise starts
// one, and waits for the shared result.
func (b *Broker) awaitRefresh(ctx context.Context) (string, error) {
	b.mu.Lock()
	result := b.inflight
	if result == nil {
		result = &refreshResult{done: make(chan struct{})}
		b.inflight = result
		go b.runRefresh(result)
	}
	b.mu.Unlock()

	select {
	case <-result.done:
		return result.token, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runRefresh performs the single refresh network call and publishes the
// result. The in-flight slot is released before the future resolves, so the
// broker can never remain stuck in the refreshing state.
func (b *Broker) runRefresh(result *refreshResult) {
	defer func() {
		b.mu.Lock()
		b.inflight = nil
		b.mu.Unlock()
		close(result.done)
	}()

	token, err := b.callRefreshEndpoint()
	if err != nil {
		b.logger.Warn("token refresh failed, clearing credentials", "error", err)
		b.store.Clear()
		result.err = ErrRefreshFailed
		return
	}

	b.store.SetAccessToken(token)
	result.token = token
}

// callRefreshEndpoint exchanges the stored refresh token for a new access token.
func (b *Broker) callRefreshEndpoint() (string, error) {
	refreshToken := b.store.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("refresh response missing access token")
	}
	return body.AccessToken, nil
}

// isAuthPath reports whether the path belongs to the authentication surface.
func isAuthPath(path string) bool {
	trimmed := strings.TrimSuffix(path, "/")
	for _, suffix := range authPathSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	return false
}
