package server

import (
	"errors"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

var errInvalidSnowflakeID = errors.New("invalid_snowflake_id")

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed <= 0 {
		return nil, errInvalidSnowflakeID
	}
	return &parsed, nil
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, errInvalidSnowflakeID
	}
	return *id, nil
}

func parseTenantParam(c *gin.Context) (snowflake.ID, error) {
	id, err := parseIDParam(c, "tenant_id")
	if err != nil {
		return 0, newValidationError("tenant_id", "invalid_tenant", "invalid tenant_id")
	}
	return id, nil
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
