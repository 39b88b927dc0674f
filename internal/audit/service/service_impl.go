package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/audit/masking"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	obscontext "github.com/smallbiznis/campaigncredit/internal/observability/context"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   auditdomain.Repository
	clock  clock.Clock
	policy masking.Policy
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("audit.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		clock:  clk,
		policy: masking.DefaultPolicy(),
	}
}

// Record stores one audit row. Credentials and recipients in the metadata are
// masked before they reach the table.
func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	row, err := s.build(ctx, entry)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, s.db, row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", row.Action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) build(ctx context.Context, entry auditdomain.Entry) (*auditdomain.AuditLog, error) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return nil, auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	metadata := make(map[string]any, len(entry.Metadata)+1)
	for key, value := range entry.Metadata {
		if key != "" {
			metadata[key] = value
		}
	}
	metadata = s.policy.Apply(metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	var tenantID *snowflake.ID
	if entry.TenantID != nil && *entry.TenantID != 0 {
		tenantID = entry.TenantID
	}

	return &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   datatypes.JSONMap(metadata),
		IPAddress:  optional(entry.IPAddress),
		UserAgent:  optional(entry.UserAgent),
		CreatedAt:  s.clock.Now().UTC(),
	}, nil
}

// List returns audit rows newest first. Page tokens carry the last row's
// created_at and id.
func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (*auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}

	filter := auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      req.Limit(),
	}
	if req.TenantID != nil && *req.TenantID != 0 {
		filter.TenantID = req.TenantID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	items, pageInfo := pagination.BuildCursorPage(items, filter.Limit, encodeCursor)
	return &auditdomain.ListResponse{AuditLogs: items, PageInfo: pageInfo}, nil
}

func decodeCursor(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func encodeCursor(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
