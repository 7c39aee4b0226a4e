package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/cloudml-magic/internal/cloudlog"
	"github.com/MimeLyc/cloudml-magic/internal/gcp"
	"github.com/MimeLyc/cloudml-magic/pkg/log"
)

// ErrNoFragments rejects a remote run before any code was accumulated.
var ErrNoFragments = errors.New("run a code block including the model definition first")

type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrValidation
	ErrPackaging
	ErrUpload
	ErrAPI
	ErrNetwork
	ErrAuth
	ErrExecution
	ErrUnknown
)

type MagicError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *MagicError {
	return &MagicError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *MagicError {
	return &MagicError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *MagicError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *MagicError) Unwrap() error {
	return e.Cause
}

func (e *MagicError) WithContext(key string, value any) *MagicError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrValidation:
		return "Validation"
	case ErrPackaging:
		return "Packaging"
	case ErrUpload:
		return "Upload"
	case ErrAPI:
		return "API"
	case ErrNetwork:
		return "Network"
	case ErrAuth:
		return "Auth"
	case ErrExecution:
		return "Execution"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *MagicError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// Handle logs err with advice. It returns false for errors that are not MagicErrors.
func (h *DefaultErrorHandler) Handle(err error) bool {
	var magicErr *MagicError
	if !errors.As(err, &magicErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	advice := h.GetAdvice(magicErr)
	log.Error("Error Detail: %v\n advice: %s", err, advice)

	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *MagicError) string {
	if errors.Is(err, cloudlog.ErrJobFailed) {
		return "The remote job reported a failure; review the error lines printed above or rerun locally with `run` to reproduce"
	}

	switch err.Type {
	case ErrConfig:
		return "Please check the MLMAGIC_* environment variables or the .env file"
	case ErrValidation:
		if errors.Is(err, ErrNoFragments) {
			return "Add the model definition with `code` before running on the cloud"
		}
		return "Please pass -projectId and -bucket to init and use a known -scaleTier"
	case ErrPackaging:
		return "Make sure python and setuptools are installed and the staged setup.py is valid"
	case ErrUpload:
		return "Make sure gsutil is installed, authenticated and can write to the bucket"
	case ErrAPI:
		var apiErr *gcp.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == 409 {
			return "A job with this id already exists; run init again to start a new job"
		}
		return "Check that the training and logging APIs are enabled for the project and that your account may use them"
	case ErrNetwork:
		return "Please check network connectivity to the cloud APIs"
	case ErrAuth:
		return "Run `gcloud auth application-default login` or set MLMAGIC_ACCESS_TOKEN"
	case ErrExecution:
		return "The local interpreter reported an error; the fragment is kept, fix it with another code block"
	default:
		return "Please review detailed error information and check relevant configuration"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var magicErr *MagicError
	if errors.As(err, &magicErr) {
		return magicErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *MagicError {
	return NewErrorWithCause(errorType, message, err)
}

// classifyRemote separates HTTP level API failures from transport failures.
func classifyRemote(err error, message string) *MagicError {
	var apiErr *gcp.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatus == 401 || apiErr.HTTPStatus == 403 {
			return WrapError(err, ErrAuth, message).WithContext("status", apiErr.HTTPStatus)
		}
		return WrapError(err, ErrAPI, message).WithContext("status", apiErr.HTTPStatus)
	}
	return WrapError(err, ErrNetwork, message)
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
