package transaction

import (
	"github.com/smallbiznis/campaigncredit/internal/transaction/repository"
	"github.com/smallbiznis/campaigncredit/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
