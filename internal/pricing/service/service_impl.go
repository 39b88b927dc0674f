package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Repo  pricingdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     pricingdomain.Repository
	clock    clock.Clock
	defaults config.CreditsDefaults
}

func NewService(p Params) pricingdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("pricing.service"),
		repo:     p.Repo,
		clock:    clk,
		defaults: p.Cfg.Credits,
	}
}

func (s *Service) GetPrice(ctx context.Context, channel pricingdomain.Channel) (*pricingdomain.Price, error) {
	if !channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}

	row, err := s.repo.Get(ctx, s.db, channel)
	if err != nil {
		return nil, err
	}
	if row == nil {
		price := s.defaultPrice(channel)
		return &price, nil
	}
	return toPrice(row), nil
}

func (s *Service) List(ctx context.Context) ([]pricingdomain.Price, error) {
	rows, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	byChannel := make(map[pricingdomain.Channel]pricingdomain.PricingConfig, len(rows))
	for _, row := range rows {
		byChannel[row.Channel] = row
	}

	out := make([]pricingdomain.Price, 0, len(pricingdomain.Channels))
	for _, ch := range pricingdomain.Channels {
		if row, ok := byChannel[ch]; ok {
			out = append(out, *toPrice(&row))
			continue
		}
		out = append(out, s.defaultPrice(ch))
	}
	return out, nil
}

func (s *Service) Set(ctx context.Context, req pricingdomain.SetPriceRequest) (*pricingdomain.Price, error) {
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	if req.UnitPrice <= 0 {
		return nil, pricingdomain.ErrInvalidUnitPrice
	}

	cfg := &pricingdomain.PricingConfig{
		Channel:   req.Channel,
		UnitPrice: req.UnitPrice,
		Currency:  s.currency(),
		UpdatedBy: strings.TrimSpace(req.UpdatedBy),
		UpdatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.Upsert(ctx, s.db, cfg); err != nil {
		return nil, err
	}

	s.log.Info("unit price updated",
		zap.String("channel", string(cfg.Channel)),
		zap.Int64("unit_price", cfg.UnitPrice),
		zap.String("updated_by", cfg.UpdatedBy),
	)
	return toPrice(cfg), nil
}

func (s *Service) defaultPrice(channel pricingdomain.Channel) pricingdomain.Price {
	unit := s.defaults.EmailUnitPrice
	if channel == pricingdomain.ChannelWhatsApp {
		unit = s.defaults.WhatsAppUnitPrice
	}
	return pricingdomain.Price{
		Channel:   channel,
		UnitPrice: unit,
		Currency:  s.currency(),
		IsDefault: true,
	}
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.defaults.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return "MXN"
}

func toPrice(row *pricingdomain.PricingConfig) *pricingdomain.Price {
	updatedAt := row.UpdatedAt
	return &pricingdomain.Price{
		Channel:   row.Channel,
		UnitPrice: row.UnitPrice,
		Currency:  row.Currency,
		UpdatedBy: row.UpdatedBy,
		UpdatedAt: &updatedAt,
	}
}
