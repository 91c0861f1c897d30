// Package trigger calls the tick endpoint of a running server on a cron schedule.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/requestid"
	"github.com/robfig/cron/v3"
)

// Result mirrors the tick endpoint's response body.
type Result struct {
	OK         bool   `json:"ok"`
	TickID     string `json:"tick_id"`
	Claimed    int    `json:"claimed"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

var ErrUnauthorized = errors.New("tick endpoint rejected the trigger secret")

type Client struct {
	url    string
	secret string
	http   *http.Client
	logger *slog.Logger
}

func NewClient(url, secret string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{url: url, secret: secret, http: httpClient, logger: logger.With("component", "trigger")}
}

// Fire runs one tick. A 500 still carries a result; it is returned together with an error.
// A request ID on ctx is forwarded so the server's tick logs can be matched to this call.
func (c *Client) Fire(ctx context.Context) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Tick-Secret", c.secret)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post tick: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read tick response: %w", err)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode tick response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !res.OK {
		return &res, fmt.Errorf("tick %s failed with status %d: %s", res.TickID, resp.StatusCode, res.Error)
	}
	return &res, nil
}

// Schedule registers Fire on a cron expression. A tick still running when the next one
// is due causes that next one to be skipped, not queued.
func (c *Client) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(c.logger.Handler(), slog.LevelInfo))
	cr := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx = requestid.WithRequestID(ctx, requestid.New())

		res, err := c.Fire(ctx)
		if err != nil {
			c.logger.ErrorContext(ctx, "tick failed", "error", err)
			return
		}
		c.logger.InfoContext(ctx, "tick done",
			"tick_id", res.TickID,
			"claimed", res.Claimed,
			"sent", res.Sent,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"duration_ms", res.DurationMS,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parse trigger spec %q: %w", spec, err)
	}
	return cr, nil
}
