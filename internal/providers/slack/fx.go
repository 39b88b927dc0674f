package slack

import (
	"context"

	"github.com/smallbiznis/campaigncredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
	fx.Provide(NewAlerter),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.Slack.WebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhookProvider(cfg.Slack.WebhookURL, nil)
}

// Alerter sends best-effort operator alerts to the configured channel.
type Alerter struct {
	provider  Provider
	channelID string
	log       *zap.Logger
}

func NewAlerter(cfg config.Config, provider Provider, log *zap.Logger) *Alerter {
	return &Alerter{
		provider:  provider,
		channelID: cfg.Slack.ChannelID,
		log:       log.Named("slack.alerter"),
	}
}

// Alert never fails the caller; delivery problems are only logged.
func (a *Alerter) Alert(ctx context.Context, message string) {
	if a == nil || a.provider == nil {
		return
	}
	if err := a.provider.PostMessage(ctx, a.channelID, message); err != nil {
		a.log.Warn("operator alert failed", zap.Error(err))
	}
}
