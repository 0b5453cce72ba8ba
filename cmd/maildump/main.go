// Command maildump fetches notification emails and dumps their bodies to
// files. The dumps are the raw material for writing provider pattern
// configs and extraction test fixtures.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matisarralde/finanzas-pwa/pkg/api"
	"github.com/matisarralde/finanzas-pwa/pkg/client"
	"github.com/matisarralde/finanzas-pwa/pkg/config"
	"github.com/matisarralde/finanzas-pwa/pkg/logging"
	"github.com/matisarralde/finanzas-pwa/pkg/reader/gmail"
)

func main() {
	query := flag.String("query", "in:inbox newer_than:30d", "Gmail search query")
	max := flag.Int64("max", 20, "maximum number of messages to dump")
	dir := flag.String("dir", "testdata/dump", "output directory")
	flag.Parse()

	logger := logging.Setup(logging.FromEnv())
	ctx := context.Background()

	httpClient, err := client.New(ctx, config.ClientSecretFile)
	if err != nil {
		logger.Error("failed to create oauth client", "error", err)
		os.Exit(1)
	}

	source, err := gmail.New(httpClient, gmail.Config{Query: *query, MaxResults: *max}, logger)
	if err != nil {
		logger.Error("failed to create gmail source", "error", err)
		os.Exit(1)
	}

	msgs, _, err := source.Fetch(ctx, "")
	if err != nil {
		logger.Error("failed to fetch messages", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		logger.Error("failed to create dump directory", "error", err)
		os.Exit(1)
	}

	dumped := 0
	for _, msg := range msgs {
		if err := dumpMessage(*dir, msg, logger); err != nil {
			logger.Warn("failed to dump message", "message_id", msg.ID, "error", err)
			continue
		}
		dumped++
	}

	logger.Info("dump complete", "dumped", dumped, "directory", *dir)
}

func dumpMessage(dir string, msg api.RawMessage, logger *slog.Logger) error {
	if msg.Body == "" {
		return fmt.Errorf("empty message body")
	}

	name := sanitizeFilename(fmt.Sprintf("%s_%s_%s.txt",
		msg.From, msg.ReceivedAt.Format("2006-01-02_150405"), msg.Subject))
	path := filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		logger.Debug("file already exists, skipping", "file", name)
		return nil
	}

	contents := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, msg.Body)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	logger.Info("dumped email", "file", name, "subject", msg.Subject)
	return nil
}

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*@\x00-\x1f]`)
	underscores = regexp.MustCompile(`_+`)
)

func sanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
