package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUUIDValidator(t *testing.T) {
	v := UUIDValidator{}
	tests := []struct {
		ref  string
		want bool
	}{
		{uuid.NewString(), true},
		{"  " + "0b1c2d3e-4f50-4617-8a9b-0c1d2e3f4a5b" + " ", true},
		{"00000000-0000-0000-0000-000000000000", false},
		{"", false},
		{"not-an-id", false},
		{"urn:uuid:0b1c2d3e-4f50-4617-8a9b-0c1d2e3f4a5b", false},
		{"0b1c2d3e4f5046178a9b0c1d2e3f4a5b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Valid(tt.ref), "ref %q", tt.ref)
	}
}

func TestValidatorFunc(t *testing.T) {
	v := ValidatorFunc(func(ref string) bool { return ref == "ok" })
	assert.True(t, v.Valid("ok"))
	assert.False(t, v.Valid("nope"))
}
