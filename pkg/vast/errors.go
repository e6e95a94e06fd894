package vast

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorCode is a numeric VAST error code. It is substituted for the
// [ERRORCODE] macro of error tracking URLs.
type ErrorCode int

// VAST error codes used by the engine
const (
	CodeXMLParsing          ErrorCode = 100
	CodeSchemaValidation    ErrorCode = 101
	CodeVersionUnsupported  ErrorCode = 102
	CodeUnexpectedAdType    ErrorCode = 200
	CodeWrapperTimeout      ErrorCode = 301
	CodeWrapperLimitReached ErrorCode = 302
	CodeWrapperNoAds        ErrorCode = 303
	CodeGeneralLinearAds    ErrorCode = 400
	CodeGeneralNonLinearAds ErrorCode = 500
	CodeUndefined           ErrorCode = 900
	CodeGeneralVPAID        ErrorCode = 901
)

var codeNames = map[ErrorCode]string{
	CodeXMLParsing:          "xml_parsing",
	CodeSchemaValidation:    "schema_validation",
	CodeVersionUnsupported:  "version_unsupported",
	CodeUnexpectedAdType:    "unexpected_ad_type",
	CodeWrapperTimeout:      "wrapper_timeout",
	CodeWrapperLimitReached: "wrapper_limit_reached",
	CodeWrapperNoAds:        "wrapper_no_ads",
	CodeGeneralLinearAds:    "general_linear_ads",
	CodeGeneralNonLinearAds: "general_nonlinear_ads",
	CodeUndefined:           "undefined",
	CodeGeneralVPAID:        "general_vpaid",
}

// String returns a stable snake_case name, used as a metrics label.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "code_" + strconv.Itoa(int(c))
}

// ErrUnparsableAd is returned when an Ad element has neither an InLine nor a
// Wrapper child.
var ErrUnparsableAd = errors.New("ad element has neither InLine nor Wrapper")

// Error is a failure tied to a VAST error code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// NewError creates a coded error wrapping an optional cause
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vast %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("vast %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the VAST error code from err, or CodeUndefined.
func CodeOf(err error) ErrorCode {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Code
	}
	return CodeUndefined
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
