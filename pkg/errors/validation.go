package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// maxNameLength bounds node and variable names.
const maxNameLength = 128

// nameRegex matches identifiers usable as HCL block labels and traversals.
var nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedNames cannot be bound because the model language uses them.
var reservedNames = map[string]bool{
	"true":  true,
	"false": true,
	"null":  true,
}

// ValidateNodeName validates a name used to bind a node in a workspace or
// to label a block in a model file.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - Must start with a letter or underscore
//   - Only letters, digits and underscores
//   - Not one of the literal keywords true, false, null
//   - Maximum length of 128 characters
func ValidateNodeName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidName, "name cannot be empty")
	}

	if len(name) > maxNameLength {
		return New(ErrCodeInvalidName, "name too long (max %d characters)", maxNameLength)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidName, "name contains invalid control characters")
		}
	}

	if !nameRegex.MatchString(name) {
		return New(ErrCodeInvalidName, "invalid name: %q", name)
	}

	if reservedNames[strings.ToLower(name)] {
		return New(ErrCodeInvalidName, "name %q is reserved", name)
	}

	return nil
}

// ValidateModelPath validates the path of a model file passed on the
// command line or in a run configuration.
func ValidateModelPath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidInput, "model path cannot be empty")
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "model path contains invalid characters")
		}
	}

	if !strings.HasSuffix(path, ".hcl") {
		return New(ErrCodeInvalidInput, "model path must have the .hcl extension: %q", path)
	}

	return nil
}
