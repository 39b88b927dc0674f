package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
)

type createAPIKeyRequest struct {
	TenantID  string     `json:"tenant_id"`
	Role      string     `json:"role"`
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	tenantID, err := parseOptionalSnowflakeID(c.Query("tenant_id"))
	if err != nil {
		AbortWithError(c, newValidationError("tenant_id", "invalid_tenant", "invalid tenant_id"))
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	role := apikeydomain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = apikeydomain.RoleTenant
	}
	create := apikeydomain.CreateRequest{
		Role:      role,
		Name:      strings.TrimSpace(req.Name),
		ExpiresAt: req.ExpiresAt,
	}
	tenantID, err := parseOptionalSnowflakeID(req.TenantID)
	if err != nil {
		AbortWithError(c, apikeydomain.ErrInvalidTenant)
		return
	}
	if tenantID != nil {
		create.TenantID = *tenantID
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var auditTenant *snowflake.ID
	if create.TenantID != 0 {
		auditTenant = &create.TenantID
	}
	s.recordAudit(c, auditTenant, auditdomain.ActionAPIKeyCreate, authorization.ObjectAPIKey, resp.KeyID, map[string]any{
		"role": create.Role,
		"name": create.Name,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, nil, auditdomain.ActionAPIKeyRevoke, authorization.ObjectAPIKey, keyID, nil)
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
