package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

const keyColumns = `id, tenant_id, key_id, name, role, key_hash, is_active, last_used_at, expires_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.APIKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO api_keys (`+keyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.TenantID,
		key.KeyID,
		key.Name,
		key.Role,
		key.KeyHash,
		key.IsActive,
		key.LastUsedAt,
		key.ExpiresAt,
		key.CreatedAt,
		key.UpdatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.APIKey, error) {
	return r.findOne(ctx, db, `key_hash = ?`, hash)
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*apikeydomain.APIKey, error) {
	return r.findOne(ctx, db, `key_id = ?`, keyID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*apikeydomain.APIKey, error) {
	var rows []apikeydomain.APIKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+` FROM api_keys WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID *snowflake.ID) ([]apikeydomain.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys`
	args := []any{}
	if tenantID != nil {
		query += ` WHERE tenant_id = ?`
		args = append(args, *tenantID)
	}
	query += ` ORDER BY id DESC`

	var keys []apikeydomain.APIKey
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, keyID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE api_keys SET is_active = ?, updated_at = ? WHERE key_id = ? AND is_active = ?`,
		false, at, keyID, true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		at, id,
	).Error
}
