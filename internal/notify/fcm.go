package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/parkspot/tracker/internal/config"
	"github.com/parkspot/tracker/pkg/core"
)

// MulticastSender is the part of the FCM client the notifier uses.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotifier pushes warning and error notices, plus timer reminders, to
// the registered devices.
type FCMNotifier struct {
	sender MulticastSender
	tokens []string
	logger *slog.Logger
}

// NewFCMNotifier wraps an existing sender.
func NewFCMNotifier(sender MulticastSender, tokens []string, logger *slog.Logger) *FCMNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMNotifier{sender: sender, tokens: tokens, logger: logger}
}

// NewFCM initialises a Firebase app from the configured credentials file.
func NewFCM(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (*FCMNotifier, error) {
	if cfg.FCMCredentialsFile == "" {
		return nil, errors.New("fcm: credentials file not configured")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FCMCredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("fcm: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: messaging client: %w", err)
	}
	return NewFCMNotifier(client, cfg.FCMTokens, logger), nil
}

// Pushable reports whether a notice is worth a device push.
func Pushable(n core.Notice) bool {
	switch n.Level {
	case core.NoticeWarning, core.NoticeError:
		return true
	}
	return strings.HasPrefix(n.Key, TimerKeyPrefix)
}

// TimerKeyPrefix starts the key of every timer reminder notice.
const TimerKeyPrefix = "timer-"

func (f *FCMNotifier) Notify(ctx context.Context, n core.Notice) {
	if len(f.tokens) == 0 || !Pushable(n) {
		return
	}
	msg := &messaging.MulticastMessage{
		Tokens: f.tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: map[string]string{
			"key":     n.Key,
			"level":   string(n.Level),
			"subject": n.Subject,
			"time":    n.Time.Format(time.RFC3339Nano),
		},
	}
	resp, err := f.sender.SendEachForMulticast(ctx, msg)
	if err != nil {
		f.logger.Error("FCM push failed", "key", n.Key, "error", err)
		return
	}
	if resp != nil && resp.FailureCount > 0 {
		f.logger.Warn("FCM push partially failed", "key", n.Key,
			"success", resp.SuccessCount, "failure", resp.FailureCount)
	}
}
