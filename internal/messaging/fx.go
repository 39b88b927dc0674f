package messaging

import (
	"github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	"github.com/smallbiznis/campaigncredit/internal/messaging/service"
	"github.com/smallbiznis/campaigncredit/internal/messaging/transport"
	"go.uber.org/fx"
)

var Module = fx.Module("messaging.service",
	fx.Provide(
		fx.Annotate(transport.NewEmail, fx.As(new(domain.Transport)), fx.ResultTags(`group:"transports"`)),
		fx.Annotate(transport.NewWhatsApp, fx.As(new(domain.Transport)), fx.ResultTags(`group:"transports"`)),
	),
	fx.Provide(service.NewService),
)
