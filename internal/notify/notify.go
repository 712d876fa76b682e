package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Channel identifies a delivery transport class.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Message struct {
	Subject string
	Body    string
}

// Notifier delivers one message on one channel. Implementations are narrow
// transports; retry and fan-out live with the caller.
type Notifier interface {
	Notify(ctx context.Context, ch Channel, address string, msg Message) error
}

// Delivery records the outcome of one channel attempt. These are persisted
// in event payloads so the dashboard can surface failed deliveries.
type Delivery struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
}

// Broadcast attempts every target channel. A failure on one channel is
// recorded and logged but never stops the others.
func Broadcast(ctx context.Context, n Notifier, targets map[Channel]string, msg Message, logger *slog.Logger) []Delivery {
	var results []Delivery
	for _, ch := range []Channel{ChannelSMS, ChannelEmail} {
		address, ok := targets[ch]
		if !ok || strings.TrimSpace(address) == "" {
			continue
		}
		d := Delivery{Channel: ch, Address: address, OK: true}
		if err := n.Notify(ctx, ch, address, msg); err != nil {
			d.OK = false
			d.Error = err.Error()
			if logger != nil {
				logger.Warn("notification delivery failed", "channel", ch, "address", address, "error", err)
			}
		}
		results = append(results, d)
	}
	return results
}

// LogNotifier writes messages to the log instead of delivering them. Used
// for local workspaces without a configured transport.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, ch Channel, address string, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notify", "channel", ch, "address", address, "subject", msg.Subject)
	return nil
}

// WebhookNotifier posts messages to an external delivery gateway that owns
// the actual SMS/email sending.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookNotifier(url, secret string, timeout time.Duration) WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return WebhookNotifier{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

type webhookMessage struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

func (w WebhookNotifier) Notify(ctx context.Context, ch Channel, address string, msg Message) error {
	data, err := json.Marshal(webhookMessage{Channel: ch, Address: address, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rentline-Channel", string(ch))
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Rentline-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
