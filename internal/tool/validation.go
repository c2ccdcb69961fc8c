package tool

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/verkstad/toolmgmt/internal/infrastructure/validation"
)

const (
	idPrefix    = "tool-"
	idSuffixLen = 8
)

var validate = validation.New()

// Validate trims the free text fields of t in place and checks it.
func Validate(t *Tool) error {
	if t == nil {
		return fmt.Errorf("%w: tool is nil", ErrInvalidTool)
	}
	t.Location = strings.TrimSpace(t.Location)
	t.Description = strings.TrimSpace(t.Description)
	t.ArticleNumber = strings.TrimSpace(t.ArticleNumber)

	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTool, validation.Message(err))
	}
	if t.MinStock != nil && t.MaxStock != nil && *t.MinStock > *t.MaxStock {
		return fmt.Errorf("%w: min_stock %d is above max_stock %d", ErrInvalidTool, *t.MinStock, *t.MaxStock)
	}
	return nil
}

// GenerateID returns a new tool identifier.
func GenerateID() string {
	return idPrefix + uuid.NewString()[:idSuffixLen]
}
