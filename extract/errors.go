// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"errors"
	"fmt"
)

// Sentinel errors for extraction failures.
//
// These can be checked with errors.Is() to determine the category of
// failure without inspecting messages.
var (
	// ErrUnsupportedLanguage indicates that no extractor is registered for
	// the requested language or file extension and no fallback is installed.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrExtractFailed indicates that extraction failed completely and no
	// usable FileResult could be produced.
	//
	// This is different from partial failures, which are reported in
	// FileResult.Errors while still returning extracted collections.
	ErrExtractFailed = errors.New("extraction failed")

	// ErrInvalidContent indicates that the provided content cannot be
	// processed at all (nil slice, non-UTF-8 text, binary data).
	ErrInvalidContent = errors.New("invalid content")
)

// ExtractError wraps an extraction failure with file context.
//
// It implements the error interface and can be unwrapped with errors.Is/As
// to reach the underlying cause. This is the error type for operations that
// fail outright; recoverable per-construct problems are recorded as
// ParseError values on the FileResult instead.
type ExtractError struct {
	// File is the path of the file being extracted.
	File string

	// Line is the 1-indexed line of the failure, or 0 if unknown.
	Line int

	// Message describes the failure in human-readable form.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error formats the failure with whatever location is available:
// "file.ts:10: message" or "file.ts: message".
func (e *ExtractError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExtractError) Unwrap() error {
	return e.Cause
}

// WrapExtractError wraps err with file context. Returns nil for a nil err
// and leaves an existing *ExtractError unchanged.
func WrapExtractError(err error, file string) error {
	if err == nil {
		return nil
	}

	var ee *ExtractError
	if errors.As(err, &ee) {
		return err
	}

	return &ExtractError{
		File:    file,
		Message: err.Error(),
		Cause:   err,
	}
}
