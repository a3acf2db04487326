package errors

import (
	"strings"
	"testing"
)

func TestValidateNodeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "mu", false},
		{"valid underscore", "_tmp", false},
		{"valid digits", "sigma2", false},
		{"valid mixed", "branch_rate_1", false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", 200), true},
		{"leading digit", "2x", true},
		{"dash", "my-var", true},
		{"dot", "a.b", true},
		{"space", "a b", true},
		{"control char", "a\x01b", true},
		{"reserved true", "true", true},
		{"reserved null", "null", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidName) {
				t.Errorf("ValidateNodeName(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidName)
			}
		})
	}
}

func TestValidateModelPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid relative", "models/poisson.hcl", false},
		{"valid absolute", "/tmp/m.hcl", false},
		{"empty", "", true},
		{"wrong extension", "model.toml", true},
		{"null byte", "m\x00.hcl", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModelPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
