package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "cc_live_****wxyz", MaskSecret("cc_live_abcdwxyz"))
	assert.Equal(t, "tok_****", MaskSecret("tok_abc"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
	assert.Equal(t, "****", MaskSecret("trailing_"))
	assert.Equal(t, "****", MaskSecret("cc_live_"))
}

func TestMaskRecipient(t *testing.T) {
	assert.Equal(t, "m****@example.com", MaskRecipient("maria@example.com"))
	assert.Equal(t, "+****5678", MaskRecipient("+5215512345678"))
	assert.Equal(t, "****", MaskRecipient("123"))
	assert.Equal(t, "", MaskRecipient(""))
}

func TestPolicyApplyLeavesOtherKeys(t *testing.T) {
	out := DefaultPolicy().Apply(map[string]any{
		"Access_Token": "APP_USR_secretvalue",
		"channel":      "email",
		"recipients":   1,
		"to":           []string{"ana@example.com", "+5215500001111"},
		"nested":       map[string]any{"secret": "whsec_1234567890", "quantity": 10},
	})

	assert.Equal(t, "APP_USR_****alue", out["Access_Token"])
	assert.Equal(t, "email", out["channel"])
	assert.Equal(t, 1, out["recipients"])
	assert.Equal(t, []string{"a****@example.com", "+****1111"}, out["to"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "whsec_****7890", nested["secret"])
	assert.Equal(t, 10, nested["quantity"])
}
