package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCreditsPolicy(t *testing.T) {
	assert.NoError(t, validateCreditsPolicy(DefaultCreditsPolicy()))

	bad := DefaultCreditsPolicy()
	bad.MaxOrderQuantity = 0
	assert.Error(t, validateCreditsPolicy(bad))

	bad = DefaultCreditsPolicy()
	bad.OrderTTL = 0
	assert.Error(t, validateCreditsPolicy(bad))

	bad = DefaultCreditsPolicy()
	bad.ReplayMaxAttempts = 0
	assert.Error(t, validateCreditsPolicy(bad))
}

func TestStaticHolderReturnsPolicy(t *testing.T) {
	policy := DefaultCreditsPolicy()
	policy.OrderTTL = 2 * time.Hour
	holder := NewStaticCreditsPolicyHolder(policy)
	assert.Equal(t, 2*time.Hour, holder.Get().OrderTTL)
	assert.Equal(t, int64(100_000), holder.Get().MaxOrderQuantity)
}

func TestClampGatewayTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Second, clampGatewayTimeout(time.Second))
	assert.Equal(t, 30*time.Second, clampGatewayTimeout(time.Minute))
	assert.Equal(t, 15*time.Second, clampGatewayTimeout(15*time.Second))
}
