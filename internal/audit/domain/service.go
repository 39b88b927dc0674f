package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
)

// Entry describes one audited change. Actor and request id come from the context.
type Entry struct {
	TenantID   *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type ListRequest struct {
	pagination.Pagination
	TenantID   *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	AuditLogs []*AuditLog          `json:"audit_logs"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
