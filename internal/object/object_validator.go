package object

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// maxSanitizePasses bounds how many layers of entity encoding are peeled
const maxSanitizePasses = 4

// SanitizeString: strips all markup from s, keeping its plain text.
// Entities are decoded for display, so the result is sanitized again until
// decoding no longer changes it; escaped markup cannot come back as tags.
func SanitizeString(s string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		clean := html.UnescapeString(strictPolicy.Sanitize(s))
		if clean == s {
			return clean
		}
		s = clean
	}
	// still changing: keep the encoded form
	return strictPolicy.Sanitize(s)
}

// Validator: validation and sanitization of drawing objects
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	// registration only fails on an empty tag or nil func
	_ = v.RegisterValidation("imgsrc", validImageSource)

	return &Validator{
		validate: v,
	}
}

// Decode: parses a serialized object and validates it
func (v *Validator) Decode(data []byte) (*Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse object: %w", err)
	}

	if err := v.ValidateAndSanitize(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// ValidateAndSanitize: validates the object against its schema, sanitizes text fields in place
func (v *Validator) ValidateAndSanitize(obj *Object) error {
	if obj.ID == "" {
		return fmt.Errorf("missing object id")
	}

	if obj.Shape == nil || !AllowedObjectTypes[obj.Shape.Kind()] {
		return fmt.Errorf("invalid object type: %s (allowed types: path, rect, circle, line, text, image)", obj.Kind)
	}

	if err := v.validate.Struct(obj.Shape); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	sanitizeShape(obj.Shape)
	return nil
}

// sanitizeShape strips markup from every free-text field of the shape
func sanitizeShape(shape Shape) {
	switch s := shape.(type) {
	case *TextData:
		s.Text = SanitizeString(s.Text)
		s.FontFamily = SanitizeString(s.FontFamily)
		s.Fill = SanitizeString(s.Fill)
	case *RectangleData:
		sanitizeStyle(&s.StyleProps)
	case *CircleData:
		sanitizeStyle(&s.StyleProps)
	case *LineData:
		s.Stroke = SanitizeString(s.Stroke)
	case *PathData:
		s.Stroke = SanitizeString(s.Stroke)
		s.Fill = SanitizeString(s.Fill)
	}
}

func sanitizeStyle(style *StyleProps) {
	style.Fill = SanitizeString(style.Fill)
	style.Stroke = SanitizeString(style.Stroke)
}

// validImageSource accepts inline image data or a web URL
func validImageSource(fl validator.FieldLevel) bool {
	src := fl.Field().String()
	return strings.HasPrefix(src, "data:image/") ||
		strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "http://")
}

// formatValidationErrors converts validator errors to a user-friendly error message
func formatValidationErrors(errors validator.ValidationErrors) error {
	var messages []string
	for _, err := range errors {
		messages = append(messages, formatSingleError(err))
	}
	return fmt.Errorf("validation failed: %s", messages[0])
}

// formatSingleError formats a single validation error with common cases
func formatSingleError(err validator.FieldError) string {
	field := err.Field()
	tag := err.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "min", "max":
		return fmt.Sprintf("'%s' value out of allowed range", field)
	case "imgsrc":
		return fmt.Sprintf("'%s' must be a data URL or http(s) URL", field)
	default:
		return fmt.Sprintf("'%s' is invalid", field)
	}
}
