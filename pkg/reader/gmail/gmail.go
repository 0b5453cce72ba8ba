// Package gmail implements the mail-transport collaborator on the Gmail
// API. It fetches bounded batches of raw messages and exposes the mailbox
// history id as an opaque resume cursor.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
)

const gmailUser = "me"

// Config holds configuration for the Gmail source.
type Config struct {
	// Query is the Gmail search query used for full listings (no cursor).
	Query string
	// MaxResults bounds one batch. Defaults to 100.
	MaxResults int64
}

// Source fetches raw messages from a Gmail mailbox.
type Source struct {
	client     *gmail.Service
	query      string
	maxResults int64
	logger     *slog.Logger
}

var _ api.MessageSource = (*Source)(nil)

// New creates a Gmail source using the given authenticated HTTP client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := gmail.NewService(context.Background(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults == 0 {
		maxResults = 100
	}

	return &Source{
		client:     client,
		query:      cfg.Query,
		maxResults: maxResults,
		logger:     logger,
	}, nil
}

// Fetch returns one batch of messages plus the mailbox's current history
// id as the next cursor. With a cursor it lists only messages added since
// that history id; without one it runs the configured search query. A
// message that fails to download is logged and skipped.
func (s *Source) Fetch(ctx context.Context, cursor string) ([]api.RawMessage, string, error) {
	ids, err := s.listMessageIDs(ctx, cursor)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("listed messages", "count", len(ids), "cursor", cursor)

	msgs := make([]api.RawMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := s.getMessage(ctx, id)
		if err != nil {
			s.logger.Error("failed to fetch message", "message_id", id, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	nextCursor, err := s.currentHistoryID(ctx)
	if err != nil {
		// Batch contents are still usable; the caller just cannot resume
		// incrementally next time.
		s.logger.Warn("failed to read history id", "error", err)
		nextCursor = ""
	}

	return msgs, nextCursor, nil
}

func (s *Source) listMessageIDs(ctx context.Context, cursor string) ([]string, error) {
	if cursor == "" {
		return s.listByQuery(ctx)
	}

	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		s.logger.Warn("invalid cursor, falling back to full listing", "cursor", cursor)
		return s.listByQuery(ctx)
	}
	return s.listByHistory(ctx, startID)
}

func (s *Source) listByQuery(ctx context.Context) ([]string, error) {
	var resp *gmail.ListMessagesResponse
	err := withBackoff(func() error {
		var err error
		resp, err = s.client.Users.Messages.List(gmailUser).
			Q(s.query).MaxResults(s.maxResults).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (s *Source) listByHistory(ctx context.Context, startID uint64) ([]string, error) {
	var resp *gmail.ListHistoryResponse
	err := withBackoff(func() error {
		var err error
		resp, err = s.client.Users.History.List(gmailUser).
			StartHistoryId(startID).HistoryTypes("messageAdded").
			MaxResults(s.maxResults).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing history since %d: %w", startID, err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, h := range resp.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil {
				continue
			}
			if _, ok := seen[added.Message.Id]; ok {
				continue
			}
			seen[added.Message.Id] = struct{}{}
			ids = append(ids, added.Message.Id)
		}
	}
	return ids, nil
}

func (s *Source) getMessage(ctx context.Context, id string) (api.RawMessage, error) {
	var msg *gmail.Message
	err := withBackoff(func() error {
		var err error
		msg, err = s.client.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return api.RawMessage{}, fmt.Errorf("getting message: %w", err)
	}

	return toRawMessage(msg), nil
}

func (s *Source) currentHistoryID(ctx context.Context) (string, error) {
	profile, err := s.client.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("getting profile: %w", err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// toRawMessage converts a Gmail API message into the pipeline's input
// shape.
func toRawMessage(msg *gmail.Message) api.RawMessage {
	raw := api.RawMessage{
		ID:         msg.Id,
		Body:       extractBody(msg),
		ReceivedAt: time.Unix(msg.InternalDate/1000, 0).UTC(),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "Subject":
				raw.Subject = header.Value
			case "From":
				raw.From = header.Value
			}
		}
	}

	return raw
}

// extractBody returns the decoded message body, preferring text/plain
// parts over text/html, falling back to the top-level body data.
func extractBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}

	for _, mimeType := range []string{"text/plain", "text/html"} {
		for _, part := range msg.Payload.Parts {
			if part.MimeType != mimeType || part.Body == nil {
				continue
			}
			if body, err := decodeBody(part.Body.Data); err == nil {
				return body
			}
		}
	}

	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		if body, err := decodeBody(msg.Payload.Body.Data); err == nil {
			return body
		}
	}

	return ""
}

// decodeBody decodes base64url body data. The API omits padding.
func decodeBody(data string) (string, error) {
	body, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// withBackoff retries an API call on rate-limit and server errors.
func withBackoff(fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
			}
			return false
		}),
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
}
