// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse failure conditions.
//
// These can be checked with errors.Is() to determine the category of
// failure without inspecting messages. A per-file parse failure is never
// fatal to an analysis run; the dispatcher isolates and counts it.
var (
	// ErrFileTooLarge indicates the content exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates non-UTF-8 or otherwise unusable content.
	ErrInvalidContent = errors.New("invalid content")

	// ErrParseFailed indicates parsing failed completely and no usable
	// record could be produced. Partial failures are reported in
	// FileRecord.Errors instead.
	ErrParseFailed = errors.New("parse failed")
)

// ParseError wraps a per-file parse failure with its location.
//
// ParseError is the isolated, counted failure unit of the pipeline: one
// ParseError excludes one file from the record set without aborting the
// run, unless the run's failure budget is exceeded.
type ParseError struct {
	// FilePath is the file that failed, relative to the source root.
	FilePath string

	// Message describes the failure in human-readable form.
	Message string

	// Cause is the underlying error. May be nil.
	Cause error
}

// Error returns "path: message".
func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a ParseError wrapping cause.
func NewParseError(filePath, message string, cause error) *ParseError {
	return &ParseError{FilePath: filePath, Message: message, Cause: cause}
}

// IsParseError reports whether err is or wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
