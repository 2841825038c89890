package templates

import "errors"

// Template errors.
var (
	ErrTemplateNotFound       = errors.New("template not found")
	ErrUndeclaredPlaceholders = errors.New("template references undeclared placeholders")
)
