package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
	"github.com/dgnsrekt/daq-receiver/internal/server"
)

func tailCmd() *cobra.Command {
	var (
		baseURL  string
		stream   string
		category string
		window   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow one stream's records from a running receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := receiver.ParseCategory(category); err != nil {
				return err
			}
			if baseURL == "" {
				host := cfg.Server.Host
				if host == "" {
					host = "localhost"
				}
				baseURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
			}

			var since time.Time
			if window > 0 {
				since = time.Now().Add(-window)
			}
			return tail(cmd.Context(), baseURL, stream, category, since, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "query API base URL (default from server config)")
	cmd.Flags().StringVarP(&stream, "stream", "s", receiver.DefaultStream, "stream name")
	cmd.Flags().StringVar(&category, "category", "events", "events, messages or transitions")
	cmd.Flags().DurationVar(&window, "since", 0, "also print records received within this window")

	return cmd
}

// tail follows the SSE endpoint and prints one JSON record per line until
// ctx is cancelled or the server closes the stream.
func tail(ctx context.Context, baseURL, stream, category string, since time.Time, out io.Writer) error {
	endpoint, err := url.JoinPath(baseURL, "v1", "streams", stream, category, "stream")
	if err != nil {
		return fmt.Errorf("building url: %w", err)
	}
	if !since.IsZero() {
		endpoint += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("tail failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	logger.Debug("tailing", zap.String("url", endpoint))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}

		var batch server.Records
		if err := json.Unmarshal([]byte(data), &batch); err != nil {
			return fmt.Errorf("decoding batch: %w", err)
		}
		for _, rec := range batch.Records {
			line, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
