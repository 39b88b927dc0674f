package whatsapp

import (
	"github.com/smallbiznis/campaigncredit/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.whatsapp",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.WhatsApp.PhoneNumberID == "" || cfg.WhatsApp.AccessToken == "" {
		return &NoOpProvider{}
	}
	return NewCloudAPI(Config{
		BaseURL:       cfg.WhatsApp.BaseURL,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
		Timeout:       cfg.WhatsApp.Timeout,
	}, nil)
}
