package providers

import (
	"github.com/smallbiznis/campaigncredit/internal/providers/email"
	"github.com/smallbiznis/campaigncredit/internal/providers/pdf"
	"github.com/smallbiznis/campaigncredit/internal/providers/slack"
	"github.com/smallbiznis/campaigncredit/internal/providers/whatsapp"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	slack.Module,
	whatsapp.Module,
)
