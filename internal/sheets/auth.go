// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/transport"
)

const spreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// TokenSource yields a bearer token for store requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// serviceAccount is the subset of the Google service-account JSON we use.
type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ServiceAccountTokenSource mints access tokens from a service-account key
// file via a signed JWT assertion. Tokens are cached until shortly before
// expiry.
type ServiceAccountTokenSource struct {
	account serviceAccount
	tr      *transport.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// ResolveCredentialsFile picks the service-account key path: the
// configured path first, then a gs_cred.json in the working directory.
func ResolveCredentialsFile(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	const fallback = "gs_cred.json"
	if _, err := os.Stat(fallback); err == nil {
		logging.Info().Str("path", fallback).Msg("Using Google credentials from working directory")
		return fallback, nil
	}
	return "", fmt.Errorf("no Google credentials configured (set sheets.credentials_file or place %s in the working directory)", fallback)
}

// NewServiceAccountTokenSource loads and validates the key file.
func NewServiceAccountTokenSource(path string, tr *transport.Client) (*ServiceAccountTokenSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	var account serviceAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	if account.ClientEmail == "" || account.PrivateKey == "" {
		return nil, fmt.Errorf("credentials file %s missing client_email or private_key", path)
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return &ServiceAccountTokenSource{account: account, tr: tr}, nil
}

// Token returns a cached access token, minting a fresh one when within a
// minute of expiry.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry.Add(-time.Minute)) {
		return s.token, nil
	}

	assertion, err := s.assertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err = s.tr.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.account.TokenURI,
		Header: hdr,
		Body:   []byte(form.Encode()),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("exchanging service-account assertion: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}

	s.token = resp.AccessToken
	s.expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return s.token, nil
}

func (s *ServiceAccountTokenSource) assertion() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parsing service-account private key: %w", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.account.ClientEmail,
		"scope": spreadsheetsScope,
		"aud":   s.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// StaticTokenSource returns a fixed token. Test hook.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) { return string(s), nil }
