package gateway

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joescharf/revu/internal/apperr"
)

// AllowedExtensions are the file extensions the backend accepts, checked
// client-side before any upload.
var AllowedExtensions = []string{".py", ".js", ".jsx", ".ts", ".tsx", ".java", ".cpp", ".c", ".go", ".zip"}

// ValidateFilename rejects names whose extension is not in AllowedExtensions.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("filename is required")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(AllowedExtensions, ext) {
		return apperr.Validation("unsupported file type %q: allowed %s", filepath.Base(name), strings.Join(AllowedExtensions, " "))
	}
	return nil
}

type pasteInput struct {
	Text     string `validate:"required"`
	Filename string `validate:"required"`
}

type batchInput struct {
	Path        string `validate:"required,endswith=.zip"`
	ProjectName string `validate:"omitempty,max=200"`
}

type trendsInput struct {
	ProjectID string `validate:"required"`
	Days      int    `validate:"min=1,max=365"`
}

// check runs struct validation and converts failures into a validation error
// naming the first offending field.
func check(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.Validation("%s failed %q check", strings.ToLower(fe.Field()), fe.Tag())
	}
	return apperr.Validation("invalid input: %v", err)
}
