package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsCredentials(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/credits/balance"),
		attribute.String("Authorization", "Bearer x"),
		attribute.String("access_token", "secret"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	err := SafeError(errors.New(strings.Repeat("x", 300)))
	assert.Len(t, err.Error(), 256)
}

func TestNormalizeRatio(t *testing.T) {
	assert.Equal(t, 0.0, normalizeRatio(-1))
	assert.Equal(t, 1.0, normalizeRatio(3))
	assert.Equal(t, 0.25, normalizeRatio(0.25))
}
