package pdf

import (
	"github.com/smallbiznis/campaigncredit/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	return NewPDFProvider(cfg.AppName)
}
