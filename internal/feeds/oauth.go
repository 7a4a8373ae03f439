// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/transport"
)

// OAuthClientSecret is the desktop-app client secret downloaded from the
// Google Cloud console.
type OAuthClientSecret struct {
	ClientID     string
	ClientSecret string
	AuthURI      string
	TokenURI     string
}

// LoadOAuthClientSecret reads a client_secret JSON, accepting both the
// "installed" and "web" layouts.
func LoadOAuthClientSecret(path string) (*OAuthClientSecret, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}
	var file struct {
		Installed *oauthSecretBody `json:"installed"`
		Web       *oauthSecretBody `json:"web"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing client secret %s: %w", path, err)
	}
	body := file.Installed
	if body == nil {
		body = file.Web
	}
	if body == nil || body.ClientID == "" || body.ClientSecret == "" {
		return nil, fmt.Errorf("client secret %s has no installed/web client", path)
	}
	out := &OAuthClientSecret{
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		AuthURI:      body.AuthURI,
		TokenURI:     body.TokenURI,
	}
	if out.AuthURI == "" {
		out.AuthURI = "https://accounts.google.com/o/oauth2/auth"
	}
	if out.TokenURI == "" {
		out.TokenURI = "https://oauth2.googleapis.com/token"
	}
	return out, nil
}

type oauthSecretBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// GoogleAdsRefreshToken runs a local consent flow for the adwords scope
// and returns the granted refresh token. It listens on localhost:port for
// the redirect and prints the consent URL for the operator to open.
func GoogleAdsRefreshToken(ctx context.Context, secret *OAuthClientSecret, port int, tr *transport.Client) (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return "", fmt.Errorf("listening for OAuth redirect: %w", err)
	}
	defer listener.Close()

	redirectURI := fmt.Sprintf("http://localhost:%d/", port)

	state := uuid.NewString()

	authQuery := url.Values{}
	authQuery.Set("client_id", secret.ClientID)
	authQuery.Set("redirect_uri", redirectURI)
	authQuery.Set("response_type", "code")
	authQuery.Set("scope", adwordsScope)
	authQuery.Set("access_type", "offline")
	authQuery.Set("prompt", "consent")
	authQuery.Set("state", state)
	consentURL := secret.AuthURI + "?" + authQuery.Encode()

	fmt.Fprintf(os.Stderr, "Open this URL in your browser to authorize Google Ads access:\n\n  %s\n\n", consentURL)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if errMsg := q.Get("error"); errMsg != "" {
				http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
				errCh <- fmt.Errorf("consent denied: %s", errMsg)
				return
			}
			code := q.Get("code")
			if code == "" {
				http.NotFound(w, r)
				return
			}
			if q.Get("state") != state {
				http.Error(w, "State mismatch", http.StatusBadRequest)
				errCh <- fmt.Errorf("oauth state mismatch in redirect")
				return
			}
			fmt.Fprintln(w, "Authorization received. You can close this window.")
			codeCh <- code
		}),
	}
	go srv.Serve(listener)
	defer srv.Close()

	var code string
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case code = <-codeCh:
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", secret.ClientID)
	form.Set("client_secret", secret.ClientSecret)
	form.Set("redirect_uri", redirectURI)

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		RefreshToken string `json:"refresh_token"`
	}
	err = tr.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    secret.TokenURI,
		Header: hdr,
		Body:   []byte(form.Encode()),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("exchanging authorization code: %w", err)
	}
	if resp.RefreshToken == "" {
		return "", fmt.Errorf("google did not return a refresh_token; retry with a fresh consent and a Desktop-app OAuth client")
	}
	logging.Info().Msg("Obtained Google Ads refresh token")
	return resp.RefreshToken, nil
}

// UpsertEnvVar writes key=value into a dotenv file, creating the file
// when missing. An existing non-empty value is kept unless force is set.
func UpsertEnvVar(path, key, value string, force bool) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, []byte(fmt.Sprintf("%s=%s\n", key, value)), 0o600)
	}
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	found := false
	changed := false
	for i, line := range lines {
		if !strings.HasPrefix(line, key+"=") {
			continue
		}
		found = true
		current := strings.SplitN(line, "=", 2)[1]
		if current != "" && !force {
			continue
		}
		lines[i] = fmt.Sprintf("%s=%s", key, value)
		changed = true
	}
	if !found {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
		changed = true
	}
	if !changed {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
