package apikey

import (
	"context"

	"github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	"github.com/smallbiznis/campaigncredit/internal/apikey/repository"
	"github.com/smallbiznis/campaigncredit/internal/apikey/service"
	"github.com/smallbiznis/campaigncredit/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, svc domain.Service) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return svc.EnsureBootstrapOperator(ctx, cfg.Bootstrap.OperatorAPIKey)
			},
		})
	}),
)
