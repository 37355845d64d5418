// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract defines the normalized extraction contract consumed by the
// call-graph builder, plus a registry for language-specific extractors and a
// regex-based fallback extractor.
//
// The contract is deliberately lossy and tolerant: adapters backed by real
// grammars (tree-sitter, compiler APIs) live outside this module and only
// need to produce FileResult values. The core never re-parses source text
// beyond what FallbackExtractor does.
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

// Extractor is the contract for language-specific source extraction.
//
// Description:
//
//	Extractor implementations turn raw source bytes into the normalized
//	FileResult shape. Each implementation handles one language but produces
//	identical output structure, so the graph builder never needs to know
//	which adapter ran.
//
//	The interface is:
//	- Context-aware: cancellation and timeouts via context.Context
//	- Error-tolerant: partial results are returned with FileResult.Errors
//	  populated rather than failing the whole file
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use; the registry hands the
//	same instance to multiple goroutines.
type Extractor interface {
	// Extract produces a FileResult from source content.
	//
	// Parameters:
	//   - ctx: Context for cancellation. Long extractions should check ctx.Done().
	//   - content: Raw source bytes (valid UTF-8).
	//   - path: File path relative to the repo root, used for FileResult.File
	//     and downstream ID generation.
	//
	// Returns:
	//   - *FileResult: Never nil on success; may carry ParseError entries for
	//     constructs the extractor could not handle.
	//   - error: Non-nil only for complete failures (invalid content,
	//     cancellation). Recoverable problems go in FileResult.Errors.
	Extract(ctx context.Context, content []byte, path string) (*FileResult, error)

	// Language returns the canonical language this extractor handles,
	// e.g. LanguageTypeScript. Used for registry lookup and FileResult.Language.
	Language() Language

	// Extensions returns the lowercase file extensions (with leading dot)
	// this extractor accepts, e.g. [".ts", ".tsx"].
	Extensions() []string
}

// Registry maps languages and file extensions to extractor instances.
//
// Description:
//
//	Registry is the central lookup used by callers feeding the graph builder:
//	pick an extractor by file extension, fall back to a default when no
//	grammar-backed adapter is registered.
//
// Thread Safety:
//
//	Fully thread-safe. Registration takes the write lock, lookups the read
//	lock.
type Registry struct {
	mu sync.RWMutex

	byLanguage  map[Language]Extractor
	byExtension map[string]Extractor

	// fallback handles extensions with no registered extractor. Nil means
	// lookups for unknown extensions report not-found.
	fallback Extractor
}

// NewRegistry creates an empty Registry with no fallback.
func NewRegistry() *Registry {
	return &Registry{
		byLanguage:  make(map[Language]Extractor),
		byExtension: make(map[string]Extractor),
	}
}

// Register adds an extractor under its Language() and all its Extensions().
// Later registrations overwrite earlier ones for the same key.
//
// Thread Safety: safe for concurrent use.
func (r *Registry) Register(e Extractor) {
	if e == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[e.Language()] = e
	for _, ext := range e.Extensions() {
		r.byExtension[ext] = e
	}
}

// SetFallback installs the extractor used when no extension match exists.
// Pass nil to clear.
func (r *Registry) SetFallback(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// ForLanguage returns the extractor registered for the given language.
//
// Returns:
//   - Extractor: the registered instance, or nil.
//   - bool: true when an extractor was found.
func (r *Registry) ForLanguage(lang Language) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byLanguage[lang]
	return e, ok
}

// ForPath returns the extractor for a file path, selected by extension.
// When no extension match exists the fallback (if set) is returned with
// ok=true; otherwise nil, false.
func (r *Registry) ForPath(path string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byExtension[lowerExt(path)]; ok {
		return e, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Languages returns all registered language names, in no particular order.
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()

	langs := make([]Language, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		langs = append(langs, lang)
	}
	return langs
}

// Extensions returns all registered file extensions, in no particular order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		exts = append(exts, ext)
	}
	return exts
}

func lowerExt(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(ext)
}

// Extract runs the extractor selected for path against content.
//
// This is the convenience entry point for callers that do not care which
// adapter handles the file. Returns ErrUnsupportedLanguage (wrapped with the
// path) when no extractor or fallback matches.
func (r *Registry) Extract(ctx context.Context, content []byte, path string) (*FileResult, error) {
	e, ok := r.ForPath(path)
	if !ok {
		return nil, WrapExtractError(ErrUnsupportedLanguage, path)
	}
	return e.Extract(ctx, content, path)
}
