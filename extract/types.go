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
	"path/filepath"
	"strings"
)

// Language identifies the source language of an extracted file.
//
// Values are canonical lowercase names ("typescript", "go", ...). The zero
// value is LanguageUnknown, which downstream consumers must tolerate.
type Language string

// Canonical language names.
const (
	LanguageUnknown    Language = ""
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCSharp     Language = "csharp"
	LanguagePHP        Language = "php"
	LanguageGo         Language = "go"
	LanguageRust       Language = "rust"
	LanguageCpp        Language = "cpp"
	LanguageC          Language = "c"
)

// extensionLanguages maps lowercase file extensions (including the dot)
// to their canonical language.
var extensionLanguages = map[string]Language{
	".ts": LanguageTypeScript, ".tsx": LanguageTypeScript,
	".mts": LanguageTypeScript, ".cts": LanguageTypeScript,
	".js": LanguageJavaScript, ".jsx": LanguageJavaScript,
	".mjs": LanguageJavaScript, ".cjs": LanguageJavaScript,
	".py": LanguagePython, ".pyi": LanguagePython,
	".java": LanguageJava,
	".cs":   LanguageCSharp,
	".php":  LanguagePHP,
	".go":   LanguageGo,
	".rs":   LanguageRust,
	".cpp":  LanguageCpp, ".cc": LanguageCpp, ".cxx": LanguageCpp,
	".hpp": LanguageCpp, ".hh": LanguageCpp, ".hxx": LanguageCpp,
	".c": LanguageC, ".h": LanguageC,
}

// LanguageFromExtension returns the language for a file extension.
//
// The extension must include the leading dot. Matching is
// case-insensitive. Returns LanguageUnknown for unrecognized extensions.
func LanguageFromExtension(ext string) Language {
	return extensionLanguages[strings.ToLower(ext)]
}

// LanguageFromPath returns the language for a file path based on its
// extension. Returns LanguageUnknown for unrecognized extensions.
func LanguageFromPath(path string) Language {
	return LanguageFromExtension(filepath.Ext(path))
}

// ParameterInfo describes a single function parameter.
type ParameterInfo struct {
	// Name is the parameter name.
	Name string `json:"name"`

	// Type is the declared type annotation, if available.
	Type string `json:"type,omitempty"`

	// DefaultValue is the default value expression, if any.
	DefaultValue string `json:"defaultValue,omitempty"`

	// IsRest is true for variadic/rest parameters.
	IsRest bool `json:"isRest,omitempty"`
}

// FunctionInfo describes one function or method extracted from a file.
//
// Line numbers are 1-indexed and inclusive. A malformed entry (empty name,
// inverted range) is tolerated by consumers, which normalize rather than
// reject it.
type FunctionInfo struct {
	// Name is the bare function name.
	Name string `json:"name"`

	// QualifiedName is the full name including the owning class,
	// e.g. "UserService.findById". Empty means same as Name.
	QualifiedName string `json:"qualifiedName,omitempty"`

	// StartLine is the first line of the declaration.
	StartLine int `json:"startLine"`

	// EndLine is the last line of the body.
	EndLine int `json:"endLine"`

	// Parameters lists the declared parameters in order.
	Parameters []ParameterInfo `json:"parameters,omitempty"`

	// ReturnType is the declared return type, if available.
	ReturnType string `json:"returnType,omitempty"`

	// IsMethod is true when the function is a class method.
	IsMethod bool `json:"isMethod,omitempty"`

	// IsStatic is true for static methods.
	IsStatic bool `json:"isStatic,omitempty"`

	// IsExported is true when the function is visible outside its module.
	IsExported bool `json:"isExported,omitempty"`

	// IsConstructor is true for constructors/initializers.
	IsConstructor bool `json:"isConstructor,omitempty"`

	// IsAsync is true for async functions/coroutines.
	IsAsync bool `json:"isAsync,omitempty"`

	// ClassName is the owning class name for methods.
	ClassName string `json:"className,omitempty"`

	// Decorators holds raw decorator/annotation text attached to the
	// declaration, e.g. "@app.route('/users')".
	Decorators []string `json:"decorators,omitempty"`
}

// CallInfo describes one call site extracted from a file.
type CallInfo struct {
	// CalleeName is the textual name of the called function.
	CalleeName string `json:"calleeName"`

	// Receiver is the receiver expression for method calls
	// ("this", "self", "userRepo", ...). Empty for plain calls.
	Receiver string `json:"receiver,omitempty"`

	// Line is the 1-indexed line of the call.
	Line int `json:"line"`

	// Column is the 0-indexed column of the call.
	Column int `json:"column"`

	// ArgumentCount is the number of arguments at the call site.
	ArgumentCount int `json:"argumentCount"`

	// IsMethodCall is true for receiver.method(...) calls.
	IsMethodCall bool `json:"isMethodCall,omitempty"`

	// IsConstructorCall is true for new X(...) style calls.
	IsConstructorCall bool `json:"isConstructorCall,omitempty"`
}

// ImportInfo describes one import statement.
type ImportInfo struct {
	// Source is the imported module specifier, e.g. "./user-service".
	Source string `json:"source"`

	// Named lists named import bindings ({ foo, bar }).
	Named []string `json:"named,omitempty"`

	// Default is the default import binding name, if any.
	Default string `json:"default,omitempty"`

	// Namespace is the namespace binding name (* as ns), if any.
	Namespace string `json:"namespace,omitempty"`

	// Line is the 1-indexed line of the import.
	Line int `json:"line"`
}

// ExportInfo describes one exported binding.
type ExportInfo struct {
	// Name is the exported name.
	Name string `json:"name"`

	// IsDefault is true for default exports.
	IsDefault bool `json:"isDefault,omitempty"`

	// Line is the 1-indexed line of the export.
	Line int `json:"line"`
}

// ClassInfo describes one class declaration.
type ClassInfo struct {
	// Name is the class name.
	Name string `json:"name"`

	// Extends is the superclass name, if any.
	Extends string `json:"extends,omitempty"`

	// Implements lists implemented interface names.
	Implements []string `json:"implements,omitempty"`

	// IsExported is true when the class is visible outside its module.
	IsExported bool `json:"isExported,omitempty"`

	// StartLine is the first line of the declaration.
	StartLine int `json:"startLine"`

	// EndLine is the last line of the body.
	EndLine int `json:"endLine"`
}

// ParseError describes a non-fatal extraction problem.
//
// A FileResult with a non-empty Errors slice is still usable; consumers
// treat the extracted collections as partial, not invalid.
type ParseError struct {
	// Message describes the problem in human-readable form.
	Message string `json:"message"`

	// Line is the 1-indexed line of the problem, or 0 if unknown.
	Line int `json:"line,omitempty"`
}

// FileResult is the canonical per-file extraction result.
//
// Description:
//
//	FileResult is the single normalized contract between language-specific
//	extraction adapters and the graph builder. Every adapter, regardless of
//	how it parses (compiler API, grammar, regex fallback), produces this
//	shape. Collections may be empty and Errors may be non-empty; consumers
//	must tolerate both.
//
// Ownership:
//
//	A FileResult is owned by its producer until handed to the builder via
//	AddFile, after which it MUST NOT be mutated.
type FileResult struct {
	// File is the path of the extracted file, relative to the repo root.
	File string `json:"file"`

	// Language is the canonical language name.
	Language Language `json:"language"`

	// Functions lists extracted functions and methods.
	Functions []FunctionInfo `json:"functions,omitempty"`

	// Calls lists extracted call sites (inside and outside functions).
	Calls []CallInfo `json:"calls,omitempty"`

	// Imports lists import statements.
	Imports []ImportInfo `json:"imports,omitempty"`

	// Exports lists exported bindings.
	Exports []ExportInfo `json:"exports,omitempty"`

	// Classes lists class declarations.
	Classes []ClassInfo `json:"classes,omitempty"`

	// Errors lists non-fatal extraction problems.
	Errors []ParseError `json:"errors,omitempty"`
}

// NewFileResult returns an empty FileResult for the given path with the
// language derived from the path's extension.
func NewFileResult(path string) *FileResult {
	return &FileResult{
		File:     path,
		Language: LanguageFromPath(path),
	}
}
