// Package client provides OAuth2 client setup for the Gmail API.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

// TokenFile is the path where the OAuth token is cached between runs.
const TokenFile = "data/token.json"

// DefaultScopes are the scopes the ingestion daemon needs: reading the
// mailbox is enough, messages are never modified.
var DefaultScopes = []string{gmail.GmailReadonlyScope}

// New creates an authenticated HTTP client from a client-secret file. When
// no cached token exists it runs a terminal-based authorization flow
// (the daemon is headless, so no browser callback server is started).
func New(ctx context.Context, secretFilePath string, scopes ...string) (*http.Client, error) {
	b, err := os.ReadFile(secretFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	return NewFromJSON(ctx, b, scopes...)
}

// NewFromJSON creates an authenticated HTTP client from client-secret JSON
// content.
func NewFromJSON(ctx context.Context, secretJSON []byte, scopes ...string) (*http.Client, error) {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	config, err := google.ConfigFromJSON(secretJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	tok, err := loadToken(TokenFile)
	if err != nil {
		slog.Info("no cached token, starting authorization flow")
		tok, err = authorize(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("authorizing: %w", err)
		}
		if err := saveToken(TokenFile, tok); err != nil {
			slog.Error("failed to cache token", "error", err)
		}
	}

	return config.Client(ctx, tok), nil
}

// authorize walks the user through the out-of-band authorization flow on
// the terminal and exchanges the pasted code for a token.
func authorize(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Visit this URL to authorize access to the mailbox:\n%s\n\nPaste the authorization code: ", authURL)

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}

	tok, err := config.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	slog.Info("caching token", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
