// Package auth obtains and caches the OAuth token used to create Gmail
// drafts. The first run walks the operator through the consent screen; later
// runs reuse the cached token and persist refreshed ones.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// RevokeURL is Google's token revocation endpoint.
const RevokeURL = "https://oauth2.googleapis.com/revoke"

var (
	ErrNotAuthorized = errors.New("not authorized, run the consent flow first")
	ErrStateMismatch = errors.New("oauth state does not match")
	ErrMissingCode   = errors.New("authorization code is empty")
	ErrRevokeFailed  = errors.New("token revocation failed")
)

// Prompt shows authURL to the operator and returns what they paste back:
// either the bare code or the whole redirect URL.
type Prompt func(authURL string) (string, error)

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

func WithRevokeURL(u string) Option {
	return func(m *Manager) { m.revokeURL = u }
}

// Manager owns the OAuth client configuration and the token file.
type Manager struct {
	config     *oauth2.Config
	tokenFile  string
	revokeURL  string
	httpClient *http.Client

	mu sync.Mutex
}

// New reads the installed-app client secrets from credentialsFile.
func New(credentialsFile, tokenFile string, opts ...Option) (*Manager, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmailapi.GmailComposeScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return NewFromConfig(cfg, tokenFile, opts...), nil
}

func NewFromConfig(cfg *oauth2.Config, tokenFile string, opts ...Option) *Manager {
	m := &Manager{
		config:    cfg,
		tokenFile: tokenFile,
		revokeURL: RevokeURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadToken returns the cached token, or ErrNotAuthorized when there is none.
func (m *Manager) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(m.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &tok, nil
}

func (m *Manager) SaveToken(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if dir := filepath.Dir(m.tokenFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating token dir: %w", err)
		}
	}
	if err := os.WriteFile(m.tokenFile, data, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}

// TokenSource returns a source backed by the cached token. Without one it
// runs the consent flow through prompt; a nil prompt yields ErrNotAuthorized.
func (m *Manager) TokenSource(ctx context.Context, prompt Prompt) (oauth2.TokenSource, error) {
	ctx = m.contextWithHTTPClient(ctx)

	tok, err := m.LoadToken()
	if errors.Is(err, ErrNotAuthorized) {
		if prompt == nil {
			return nil, err
		}
		tok, err = m.authorize(ctx, prompt)
	}
	if err != nil {
		return nil, err
	}

	return &cachingSource{
		base:  m.config.TokenSource(ctx, tok),
		last:  tok.AccessToken,
		save:  m.SaveToken,
		guard: &m.mu,
	}, nil
}

func (m *Manager) authorize(ctx context.Context, prompt Prompt) (*oauth2.Token, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	authURL := m.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	input, err := prompt(authURL)
	if err != nil {
		return nil, err
	}

	code, err := parseCode(input, state)
	if err != nil {
		return nil, err
	}

	tok, err := m.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	if err := m.SaveToken(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// parseCode accepts a bare code or the redirect URL the browser landed on.
func parseCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parsing redirect url: %w", err)
		}
		q := u.Query()
		if s := q.Get("state"); s != "" && s != state {
			return "", ErrStateMismatch
		}
		input = q.Get("code")
	}
	if input == "" {
		return "", ErrMissingCode
	}
	return input, nil
}

// Logout revokes the cached token and deletes it. The file is removed even
// when revocation fails.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.LoadToken()
	if errors.Is(err, ErrNotAuthorized) {
		return nil
	}

	var revokeErr error
	if err != nil {
		revokeErr = err
	} else {
		revokeErr = m.revoke(ctx, tok)
	}

	if err := os.Remove(m.tokenFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(revokeErr, fmt.Errorf("removing token: %w", err))
	}
	return revokeErr
}

func (m *Manager) revoke(ctx context.Context, tok *oauth2.Token) error {
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}

	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Join(ErrRevokeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := m.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Join(ErrRevokeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return errors.Join(ErrRevokeFailed, fmt.Errorf("status=%d body=%s", resp.StatusCode, body))
	}
	return nil
}

func (m *Manager) contextWithHTTPClient(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

// cachingSource writes every newly refreshed token back to disk.
type cachingSource struct {
	base  oauth2.TokenSource
	last  string
	save  func(*oauth2.Token) error
	guard *sync.Mutex
}

func (s *cachingSource) Token() (*oauth2.Token, error) {
	s.guard.Lock()
	defer s.guard.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		if err := s.save(tok); err != nil {
			return nil, err
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
