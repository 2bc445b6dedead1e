package hls

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/fetch"
)

// Severity tells the caller whether the presentation is still usable.
type Severity int

const (
	// SeverityRecoverable errors are reported but the parser keeps running.
	SeverityRecoverable Severity = 1
	// SeverityCritical errors abort the current parse or update.
	SeverityCritical Severity = 2
)

func (s Severity) String() string {
	if s == SeverityRecoverable {
		return "RECOVERABLE"
	}
	return "CRITICAL"
}

// Category groups error codes by the subsystem that raised them.
type Category int

const (
	CategoryNetwork  Category = 1
	CategoryManifest Category = 4
	CategoryPlayer   Category = 7
)

func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "NETWORK"
	case CategoryManifest:
		return "MANIFEST"
	case CategoryPlayer:
		return "PLAYER"
	default:
		return fmt.Sprintf("CATEGORY(%d)", int(c))
	}
}

// Code is a stable identifier for an error condition.
type Code string

const (
	CodeMasterPlaylistNotProvided     Code = "HLS_MASTER_PLAYLIST_NOT_PROVIDED"
	CodeInvalidPlaylistHierarchy      Code = "HLS_INVALID_PLAYLIST_HIERARCHY"
	CodeRequiredTagMissing            Code = "HLS_REQUIRED_TAG_MISSING"
	CodeRequiredAttributeMissing      Code = "HLS_REQUIRED_ATTRIBUTE_MISSING"
	CodeCouldNotGuessCodecs           Code = "HLS_COULD_NOT_GUESS_CODECS"
	CodeCouldNotGuessMimeType         Code = "HLS_COULD_NOT_GUESS_MIME_TYPE"
	CodeCouldNotParseSegmentStartTime Code = "HLS_COULD_NOT_PARSE_SEGMENT_START_TIME"
	CodeMultipleMediaInitSections     Code = "HLS_MULTIPLE_MEDIA_INIT_SECTIONS_FOUND"
	CodeKeyFormatsNotSupported        Code = "HLS_KEYFORMATS_NOT_SUPPORTED"
	CodeAES128NotSupported            Code = "HLS_AES_128_ENCRYPTION_NOT_SUPPORTED"
	CodeOperationAborted              Code = "OPERATION_ABORTED"
	CodePlaylistParseFailed           Code = "HLS_PLAYLIST_PARSE_FAILED"
	CodeHTTPError                     Code = "HTTP_ERROR"
)

// Error is the error type returned by Parser. errors.Is matches on Code, so
// callers can compare against the exported sentinels.
type Error struct {
	Severity Severity
	Category Category
	Code     Code
	Data     []any
	Err      error
}

// Sentinels for errors.Is.
var (
	ErrMasterPlaylistNotProvided = &Error{Code: CodeMasterPlaylistNotProvided}
	ErrInvalidPlaylistHierarchy  = &Error{Code: CodeInvalidPlaylistHierarchy}
	ErrKeyFormatsNotSupported    = &Error{Code: CodeKeyFormatsNotSupported}
	ErrAES128NotSupported        = &Error{Code: CodeAES128NotSupported}
	ErrOperationAborted          = &Error{Code: CodeOperationAborted}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("hls: %s %s %s", e.Severity, e.Category, e.Code)
	if len(e.Data) > 0 {
		msg += fmt.Sprintf(" %v", e.Data)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsAborted reports whether err is the result of Stop or cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrOperationAborted)
}

func newError(category Category, code Code, cause error, data ...any) *Error {
	return &Error{
		Severity: SeverityCritical,
		Category: category,
		Code:     code,
		Data:     data,
		Err:      cause,
	}
}

func manifestError(code Code, data ...any) *Error {
	return newError(CategoryManifest, code, nil, data...)
}

func abortedError(cause error) *Error {
	return newError(CategoryPlayer, CodeOperationAborted, cause)
}

// classify maps errors from collaborators onto *Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var (
		status  *fetch.StatusError
		missing *drm.MissingAttributeError
	)
	switch {
	case fetch.IsAborted(err):
		return abortedError(err)
	case errors.As(err, &status):
		return newError(CategoryNetwork, CodeHTTPError, err, status.URI, status.StatusCode)
	case errors.As(err, &missing):
		return newError(CategoryManifest, CodeRequiredAttributeMissing, err, missing.Attribute)
	default:
		return newError(CategoryNetwork, CodeHTTPError, err)
	}
}

// recoverable returns a copy of err downgraded to SeverityRecoverable.
func recoverable(err error) *Error {
	e, ok := AsError(classify(err))
	if !ok {
		return nil
	}
	cp := *e
	cp.Severity = SeverityRecoverable
	return &cp
}
