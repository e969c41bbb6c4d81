// Package slack posts operational alerts. A client without a token is a
// no-op so alerting stays optional.
package slack

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// Backoff for rate-limited posts. Variables so tests can shorten them.
var (
	initialBackoff  = 1 * time.Second
	maxBackoffDelay = 30 * time.Second
	maxTotalTimeout = 2 * time.Minute
)

type Client struct {
	client         *slack.Client
	channelID      string
	errorChannelID string
	enabled        bool
}

// NewClient creates a new Slack client
func NewClient(token, channelID, errorChannelID string, opts ...slack.Option) *Client {
	if token == "" {
		return &Client{
			enabled: false,
		}
	}

	if errorChannelID == "" {
		errorChannelID = channelID
	}

	return &Client{
		client:         slack.New(token, opts...),
		channelID:      channelID,
		errorChannelID: errorChannelID,
		enabled:        true,
	}
}

func (c *Client) Enabled() bool {
	return c.enabled
}

// PostMessage sends a message to the configured Slack channel
func (c *Client) PostMessage(ctx context.Context, message string) error {
	return c.PostMessageToChannel(ctx, c.channelID, message)
}

// PostErrorMessage sends a message to the configured error channel
func (c *Client) PostErrorMessage(ctx context.Context, message string) error {
	return c.PostMessageToChannel(ctx, c.errorChannelID, message)
}

// PostMessageToChannel sends a message to a specific channel. Rate-limited
// posts are retried with exponential backoff until maxTotalTimeout, after
// which the message is dropped with a log line.
func (c *Client) PostMessageToChannel(ctx context.Context, channelID, message string) error {
	if !c.enabled {
		log.Printf("[Slack] 未設定のため送信をスキップ")
		return nil
	}

	if message == "" {
		return nil
	}

	deadline := time.Now().Add(maxTotalTimeout)
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		// MsgOptionText の第2引数はエスケープ指定
		_, _, err := c.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(message, false))
		if err == nil {
			return nil
		}
		if !isRateLimitedError(err) {
			log.Printf("[Slack] 送信エラー: %v", err)
			return err
		}

		if time.Now().Add(backoff).After(deadline) {
			log.Printf("[Slack] レート制限: %d回試行後に送信を断念", attempt)
			return nil
		}
		log.Printf("[Slack] レート制限: %v後にリトライ (%d回目)", backoff, attempt)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoffDelay)
	}
}

// PostMessageAsync sends a message asynchronously to the configured Slack channel
func (c *Client) PostMessageAsync(ctx context.Context, message string) {
	c.postAsync(ctx, c.channelID, message)
}

// PostErrorMessageAsync sends an alert to the error channel without blocking the caller.
func (c *Client) PostErrorMessageAsync(ctx context.Context, message string) {
	c.postAsync(ctx, c.errorChannelID, message)
}

func (c *Client) postAsync(ctx context.Context, channelID, message string) {
	if !c.enabled {
		return
	}
	go func() {
		if err := c.PostMessageToChannel(context.WithoutCancel(ctx), channelID, message); err != nil {
			log.Printf("[Slack] 非同期送信エラー: %v", err)
		}
	}()
}

func isRateLimitedError(err error) bool {
	if err == nil {
		return false
	}

	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return true
	}

	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) && retryable.Retryable() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limited") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}
