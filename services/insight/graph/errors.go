// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen indicates a mutation was attempted after Freeze().
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrGraphFull indicates a node or edge capacity limit was reached.
	ErrGraphFull = errors.New("graph is at capacity")

	// ErrInvalidNode indicates a nil node or empty node ID.
	ErrInvalidNode = errors.New("invalid node")

	// ErrUnknownNode indicates an edge endpoint that does not exist.
	ErrUnknownNode = errors.New("unknown node")
)

// ResolutionConflict records two project definitions competing for one
// qualified name. Non-fatal: the definition from the first file in
// sorted path order wins and the loser is reported as a warning.
type ResolutionConflict struct {
	// QualifiedName is the contested fully qualified name.
	QualifiedName string

	// WinnerPath is the file whose definition was kept.
	WinnerPath string

	// LoserPath is the file whose definition was discarded.
	LoserPath string
}

// Error describes the conflict and its resolution.
func (e *ResolutionConflict) Error() string {
	return fmt.Sprintf("duplicate definition of %s: kept %s, ignored %s",
		e.QualifiedName, e.WinnerPath, e.LoserPath)
}

// IsResolutionConflict reports whether err is or wraps a ResolutionConflict.
func IsResolutionConflict(err error) bool {
	var rc *ResolutionConflict
	return errors.As(err, &rc)
}
