// Package discord delivers notifications to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/notify"
)

const (
	// discordMaxMessageLength is Discord's character limit per message.
	// Longer content is truncated.
	discordMaxMessageLength = 2000

	discordMessageFormat = "[%s] from *%s*:\n> %s\n"

	defaultRateInterval = 2 * time.Second
	defaultBurst        = 5
	defaultSendTimeout  = 10 * time.Second
)

type payload struct {
	Content string `json:"content"`
}

// Notifier implements notify.Notifier against a Discord webhook. It is
// safe for concurrent use; all fields are immutable after creation or
// concurrency-safe themselves. Send is non-blocking, the HTTP dispatch
// runs in a goroutine.
type Notifier struct {
	webhookURL     string
	sendTimeout    time.Duration
	logger         *slog.Logger
	httpClient     *http.Client
	apiRateLimiter *rate.Limiter
}

func New(cfg config.Discord, logger *slog.Logger) (*Notifier, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("discord: WebhookURL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("discord: logger is required")
	}

	interval := cfg.APIRateLimit.Duration
	if interval <= 0 {
		interval = defaultRateInterval
	}
	burst := cfg.APIBurst
	if burst <= 0 {
		burst = defaultBurst
	}
	sendTimeout := cfg.SendTimeout.Duration
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	return &Notifier{
		webhookURL:     cfg.WebhookURL,
		sendTimeout:    sendTimeout,
		logger:         logger,
		apiRateLimiter: rate.NewLimiter(rate.Every(interval), burst),
		httpClient:     &http.Client{},
	}, nil
}

func (dn *Notifier) formatMessage(n notify.Notification) string {
	content := fmt.Sprintf(discordMessageFormat, n.Type.String(), n.Source, n.Message)

	// sorted so the rendering is stable
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []string
	for _, k := range keys {
		v := n.Fields[k]
		if k == "" || v == nil {
			continue
		}
		valStr := fmt.Sprintf("%v", v)
		if valStr == "" {
			continue
		}
		fields = append(fields, fmt.Sprintf("> %s: `%s`\n", k, valStr))
	}
	if len(fields) > 0 {
		content += "\n**Fields**:\n" + strings.Join(fields, "")
	}

	if len(content) > discordMaxMessageLength {
		return content[:discordMaxMessageLength-3] + "..."
	}
	return content
}

// Send enqueues the notification for delivery. When the rate limit is
// exhausted the notification is dropped and logged, not an error: alerting
// must never back-pressure the caller.
func (dn *Notifier) Send(_ context.Context, n notify.Notification) error {
	if !dn.apiRateLimiter.Allow() {
		dn.logger.Warn("discord: rate limit reached, dropping notification",
			"source", n.Source, "message", n.Message)
		return nil
	}

	// The caller's context is not used here: the request that triggered
	// the notification may finish before the webhook call does.
	go func(notif notify.Notification) {
		sendCtx, cancel := context.WithTimeout(context.Background(), dn.sendTimeout)
		defer cancel()

		jsonBody, err := json.Marshal(payload{Content: dn.formatMessage(notif)})
		if err != nil {
			dn.logger.Error("discord: marshal payload failed",
				"source", notif.Source, "error", err)
			return
		}

		req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, dn.webhookURL, bytes.NewBuffer(jsonBody))
		if err != nil {
			dn.logger.Error("discord: build request failed",
				"source", notif.Source, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := dn.httpClient.Do(req)
		if err != nil {
			dn.logger.Error("discord: send failed",
				"source", notif.Source, "error", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			dn.logger.Error("discord: non-2xx status",
				"status_code", resp.StatusCode, "source", notif.Source)
			if resp.StatusCode == http.StatusTooManyRequests {
				dn.logger.Warn("discord: received 429, rate limit settings may need adjustment")
			}
			return
		}

		dn.logger.Debug("discord: notification delivered",
			"source", notif.Source, "message", notif.Message)
	}(n)

	return nil
}
