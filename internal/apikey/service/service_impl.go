package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	bootstrapKeyID = "key_BOOTSTRAP"
	touchInterval  = time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: clk,
	}
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrUnauthorized
	}

	key, err := s.repo.FindByHash(ctx, s.db, apikeydomain.HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if key == nil {
		if keyID, ok := apikeydomain.KeyIDFromSecret(raw); ok {
			// well-formed but unknown: revoked and deleted, or forged
			s.log.Debug("api key not found", zap.String("key_id", keyID))
		}
		return nil, apikeydomain.ErrUnauthorized
	}
	now := s.clock.Now().UTC()
	if !key.IsActive || (key.ExpiresAt != nil && now.After(*key.ExpiresAt)) {
		return nil, apikeydomain.ErrUnauthorized
	}
	if key.Role == apikeydomain.RoleTenant && key.TenantID == 0 {
		return nil, apikeydomain.ErrUnauthorized
	}

	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) > touchInterval {
		if err := s.repo.Touch(ctx, s.db, key.ID, now); err != nil {
			s.log.Warn("failed to touch api key", zap.String("key_id", key.KeyID), zap.Error(err))
		}
	}

	return &apikeydomain.Principal{KeyID: key.KeyID, TenantID: key.TenantID, Role: key.Role}, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	if !req.Role.Valid() {
		return nil, apikeydomain.ErrInvalidRole
	}
	tenantID := req.TenantID
	switch req.Role {
	case apikeydomain.RoleTenant:
		if tenantID == 0 {
			return nil, apikeydomain.ErrInvalidTenant
		}
	case apikeydomain.RoleOperator:
		tenantID = 0
	}

	now := s.clock.Now().UTC()
	id := s.genID.Generate()
	keyID := apikeydomain.NewKeyID(id)
	plain, hash, err := apikeydomain.GenerateSecret(keyID)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:        id,
		TenantID:  tenantID,
		KeyID:     keyID,
		Name:      name,
		Role:      req.Role,
		KeyHash:   hash,
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.log.Info("api key created",
		zap.String("key_id", key.KeyID),
		zap.String("role", string(key.Role)),
		zap.String("tenant_id", key.TenantID.String()),
	)
	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) List(ctx context.Context, tenantID *snowflake.ID) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}
	if _, err := s.repo.Deactivate(ctx, s.db, trimmed, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.log.Info("api key revoked", zap.String("key_id", trimmed))
	return nil
}

// EnsureBootstrapOperator registers the operator key supplied through the
// environment so a fresh install can reach the admin API.
func (s *Service) EnsureBootstrapOperator(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	hash := apikeydomain.HashAPIKey(raw)
	existing, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		if current, err := s.repo.FindByKeyID(ctx, tx, bootstrapKeyID); err != nil {
			return err
		} else if current != nil {
			// The env key was rotated; the previous bootstrap key stops working.
			if err := tx.WithContext(ctx).Exec(`DELETE FROM api_keys WHERE key_id = ?`, bootstrapKeyID).Error; err != nil {
				return err
			}
		}

		if err := s.repo.Insert(ctx, tx, &apikeydomain.APIKey{
			ID:        s.genID.Generate(),
			KeyID:     bootstrapKeyID,
			Name:      "bootstrap operator",
			Role:      apikeydomain.RoleOperator,
			KeyHash:   hash,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		s.log.Info("bootstrap operator api key registered")
		return nil
	})
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:      key.KeyID,
		TenantID:   key.TenantID,
		Name:       key.Name,
		Role:       key.Role,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		ExpiresAt:  key.ExpiresAt,
	}
}
