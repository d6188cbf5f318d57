package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("1234"))
	assert.Equal(t, "****5678", MaskSecret("12345678"))
	assert.Equal(t, "PL-****4567", MaskSecret("PL-1234567"))
}

func TestMaskSensitive(t *testing.T) {
	in := map[string]any{
		"issuer":         "ACME Academy",
		"license_number": "ATPL-99887766",
		"nested":         map[string]any{"passport_number": "X1234567"},
		" ":              "dropped",
	}
	out := MaskSensitive(in)

	assert.Equal(t, "ACME Academy", out["issuer"])
	assert.Equal(t, "ATPL-****7766", out["license_number"])
	assert.Equal(t, "****4567", out["nested"].(map[string]any)["passport_number"])
	assert.NotContains(t, out, " ")
	assert.Equal(t, "ATPL-99887766", in["license_number"], "input is not modified")
}
