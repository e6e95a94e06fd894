package pod

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// ValidationError represents a playability problem of one member
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Code   vast.ErrorCode
	Errors []ValidationError
}

// AddError adds a validation error. The first error decides the code.
func (vr *ValidationResult) AddError(code vast.ErrorCode, field, message string) {
	if vr.Valid {
		vr.Code = code
	}
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Err returns the result as a coded error, nil when valid
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	msgs := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		msgs = append(msgs, e.Error())
	}
	return vast.NewError(vr.Code, strings.Join(msgs, "; "), nil)
}

// Validate checks that a member carries something playable.
func Validate(m *Member) *ValidationResult {
	result := &ValidationResult{Valid: true}
	switch m.Type {
	case Linear:
		validateLinear(m.Template.Linear, result)
	case NonLinear:
		validateNonLinear(m.Template.NonLinear, result)
	}
	return result
}

func validateLinear(l *vast.Linear, result *ValidationResult) {
	if l == nil {
		result.AddError(vast.CodeGeneralLinearAds, "Linear", "linear creative is missing")
		return
	}
	if len(l.MediaFiles) == 0 {
		result.AddError(vast.CodeGeneralLinearAds, "Linear.MediaFiles", "At least one MediaFile is required")
		return
	}

	playable := 0
	for i, mf := range l.MediaFiles {
		if mf.URL == "" {
			result.AddError(vast.CodeGeneralLinearAds, fmt.Sprintf("Linear.MediaFile[%d]", i), "MediaFile URL is required")
			continue
		}
		if !isValidURL(mf.URL) {
			result.AddError(vast.CodeGeneralLinearAds, fmt.Sprintf("Linear.MediaFile[%d]", i), "Invalid MediaFile URL")
			continue
		}
		playable++
	}
	// one good file is enough to play
	if playable > 0 {
		result.Valid = true
		result.Errors = nil
		result.Code = 0
	}
}

func validateNonLinear(n *vast.NonLinear, result *ValidationResult) {
	if n == nil {
		result.AddError(vast.CodeGeneralNonLinearAds, "NonLinear", "nonlinear creative is missing")
		return
	}
	switch n.Resource {
	case vast.ResourceStatic, vast.ResourceIFrame:
		if n.URL == "" {
			result.AddError(vast.CodeGeneralNonLinearAds, "NonLinear.Resource", "resource URL is required")
		} else if !isValidURL(n.URL) {
			result.AddError(vast.CodeGeneralNonLinearAds, "NonLinear.Resource", "Invalid resource URL")
		}
	case vast.ResourceHTML:
		if n.Data == "" {
			result.AddError(vast.CodeGeneralNonLinearAds, "NonLinear.HTMLResource", "HTML resource is empty")
		}
	default:
		result.AddError(vast.CodeGeneralNonLinearAds, "NonLinear.Resource", "no static, iframe or html resource")
	}
}

// isValidURL checks if a string is a valid URL
func isValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "") && (u.Host != "" || strings.HasPrefix(s, "//"))
}
