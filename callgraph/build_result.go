// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import "fmt"

// FileError records a failure to process a single file during build.
//
// Build operations never abort on bad input; problems accumulate here
// while the rest of the graph is assembled normally.
type FileError struct {
	// File is the path of the file the problem belongs to.
	File string

	// Stage names the build phase that hit the problem:
	// "collect", "resolve", "data-access".
	Stage string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("file %s (%s): %v", e.File, e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e FileError) Unwrap() error {
	return e.Err
}

// BuildStats describes one build run beyond the graph's own stats block.
type BuildStats struct {
	// FilesProcessed is the number of registered files walked.
	FilesProcessed int

	// FunctionsCreated is the number of nodes added to the arena.
	FunctionsCreated int

	// CallSitesCreated is the number of call edges attached to callers.
	CallSitesCreated int

	// AmbiguousResolutions counts call sites that matched more than one
	// candidate; the most specific tier won and the rest were recorded
	// on CallSite.Candidates.
	AmbiguousResolutions int

	// AccessPointsAttached counts data access points merged onto an
	// owning function.
	AccessPointsAttached int

	// AccessPointsOrphaned counts points whose line fell outside every
	// function in their file.
	AccessPointsOrphaned int

	// DurationMicro is the total build time in microseconds.
	DurationMicro int64
}

// BuildResult is what Build returns.
//
// Builds are resilient: malformed files degrade to partial nodes and
// FileErrors rather than failing the run. The only way to get a nil Graph
// is cancellation before finalize.
type BuildResult struct {
	// Graph is the finalized, frozen graph. Nil only when Incomplete.
	Graph *CallGraph

	// FileErrors lists per-file problems. The named files may still be
	// partially represented in the graph.
	FileErrors []FileError

	// Stats describes the run.
	Stats BuildStats

	// Incomplete is true when the build was cancelled via context.
	Incomplete bool
}

// HasErrors reports whether any per-file problems accumulated.
func (r *BuildResult) HasErrors() bool {
	return len(r.FileErrors) > 0
}

// Success reports a complete build with no per-file problems.
func (r *BuildResult) Success() bool {
	return !r.Incomplete && !r.HasErrors()
}
