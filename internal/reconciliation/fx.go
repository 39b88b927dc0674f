package reconciliation

import (
	"github.com/smallbiznis/campaigncredit/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(service.NewService),
	fx.Provide(service.AsPaymentApplier),
)
