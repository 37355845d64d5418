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
	"context"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FallbackExtractor is a line- and regex-based extractor that works on any
// text file.
//
// Description:
//
//	FallbackExtractor exists so that a repo with no grammar-backed adapter
//	for some language still yields a usable, if approximate, FileResult. It
//	recognizes common function/method declaration shapes (C-family, Python,
//	Go, JS/TS arrow functions), call sites, imports, exports, classes and
//	decorators. It never inspects semantics and never fails on malformed
//	syntax; anything it cannot place is simply omitted.
//
// Thread Safety:
//
//	Safe for concurrent use; the extractor holds no mutable state.
//
// Limitations:
//
//   - End lines are estimated from brace balance (brace languages) or the
//     next declaration (indentation languages) and may be off for unusual
//     formatting.
//   - Calls inside strings and comments are not reliably excluded.
//   - Receiver detection only covers the `recv.method(...)` shape.
type FallbackExtractor struct{}

// NewFallbackExtractor returns a FallbackExtractor.
func NewFallbackExtractor() *FallbackExtractor {
	return &FallbackExtractor{}
}

// Language returns LanguageUnknown; the fallback is not tied to one language.
func (f *FallbackExtractor) Language() Language { return LanguageUnknown }

// Extensions returns nil; the fallback is selected via Registry.SetFallback,
// never by extension.
func (f *FallbackExtractor) Extensions() []string { return nil }

// Declaration shapes, checked in order. Each pattern captures the name.
var (
	reFuncDecl = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`)
	rePyDef    = regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(`)
	reGoFunc   = regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)\s*\(`)
	reArrowFn  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`)
	reMethod   = regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+|static\s+|async\s+)*([A-Za-z_$][\w$]*)\s*\([^)]*\)\s*(?::\s*[\w<>\[\],.\s|&]+)?\s*\{`)

	reClassDecl = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)(?:\s+extends\s+([A-Za-z_$][\w$.]*))?(?:\s+implements\s+([\w$.,\s]+))?`)
	reDecorator = regexp.MustCompile(`^\s*@([\w.]+(?:\([^)]*\))?)`)

	reImportFrom = regexp.MustCompile(`^\s*import\s+(.+?)\s+from\s+['"]([^'"]+)['"]`)
	reImportBare = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"]`)
	reRequire    = regexp.MustCompile(`(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*require\(\s*['"]([^'"]+)['"]`)
	rePyImport   = regexp.MustCompile(`^\s*import\s+([\w.]+)`)
	rePyFrom     = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+)`)

	reExportNamed   = regexp.MustCompile(`^\s*export\s+(?:async\s+)?(?:function\s*\*?\s*|class\s+|const\s+|let\s+|var\s+)([A-Za-z_$][\w$]*)`)
	reExportDefault = regexp.MustCompile(`^\s*export\s+default\b`)

	reCall = regexp.MustCompile(`(?:([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)\.)?([A-Za-z_$][\w$]*)\s*\(`)
	reNew  = regexp.MustCompile(`\bnew\s+([A-Za-z_$][\w$.]*)\s*\(`)
)

// Keywords that look like calls under reCall but are control flow or
// declarations.
var callKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "def": true, "func": true,
	"with": true, "elif": true, "except": true, "class": true,
	"new": true, "typeof": true, "sizeof": true, "defer": true, "go": true,
	"print": false, // a real builtin call, keep it
}

type fallbackDecl struct {
	index     int // position in result.Functions
	startLine int
	depth     int // brace depth at declaration, brace languages only
	python    bool
	indent    int // leading whitespace width, python only
}

// Extract scans content line by line.
//
// Errors:
//   - ErrInvalidContent when content is not valid UTF-8.
//   - ctx.Err() wrapped when the context ends mid-scan.
func (f *FallbackExtractor) Extract(ctx context.Context, content []byte, path string) (*FileResult, error) {
	if !utf8.Valid(content) {
		return nil, WrapExtractError(ErrInvalidContent, path)
	}

	result := NewFileResult(path)
	lines := strings.Split(string(content), "\n")

	var (
		pendingDecorators []string
		openDecls         []fallbackDecl
		currentClass      string
		classDepth        = -1
		braceDepth        int
	)

	closePython := func(indent, line int) {
		for len(openDecls) > 0 {
			top := openDecls[len(openDecls)-1]
			if !top.python || indent > top.indent {
				break
			}
			result.Functions[top.index].EndLine = line - 1
			openDecls = openDecls[:len(openDecls)-1]
		}
	}

	for i, raw := range lines {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, WrapExtractError(ctx.Err(), path)
			default:
			}
		}

		lineNo := i + 1
		line := stripLineComment(raw)
		trimmed := strings.TrimSpace(line)
		indent := len(line) - len(strings.TrimLeft(line, " \t"))

		if trimmed != "" {
			closePython(indent, lineNo)
		}

		if m := reDecorator.FindStringSubmatch(line); m != nil {
			pendingDecorators = append(pendingDecorators, "@"+m[1])
			continue
		}

		if m := reClassDecl.FindStringSubmatch(line); m != nil {
			ci := ClassInfo{
				Name:       m[1],
				Extends:    m[2],
				IsExported: strings.Contains(line, "export") || isUpperInitial(m[1]),
				StartLine:  lineNo,
				EndLine:    lineNo,
			}
			if m[3] != "" {
				for _, part := range strings.Split(m[3], ",") {
					if p := strings.TrimSpace(part); p != "" {
						ci.Implements = append(ci.Implements, p)
					}
				}
			}
			result.Classes = append(result.Classes, ci)
			currentClass = m[1]
			classDepth = braceDepth
			pendingDecorators = nil
		}

		f.scanImports(result, line, lineNo)
		f.scanExports(result, line, lineNo)

		if fn, ok := f.matchFunction(line); ok {
			fn.StartLine = lineNo
			fn.EndLine = lineNo
			fn.Decorators = pendingDecorators
			pendingDecorators = nil
			if currentClass != "" && fn.IsMethod {
				fn.ClassName = currentClass
				fn.QualifiedName = currentClass + "." + fn.Name
				fn.IsConstructor = fn.Name == "constructor" || fn.Name == "__init__"
			} else {
				fn.QualifiedName = fn.Name
			}
			result.Functions = append(result.Functions, fn)
			openDecls = append(openDecls, fallbackDecl{
				index:     len(result.Functions) - 1,
				startLine: lineNo,
				depth:     braceDepth,
				python:    strings.Contains(line, "def "),
				indent:    indent,
			})
		} else if trimmed != "" {
			f.scanCalls(result, line, lineNo)
		}

		opens := strings.Count(line, "{")
		closes := strings.Count(line, "}")
		braceDepth += opens
		for c := 0; c < closes; c++ {
			braceDepth--
			for len(openDecls) > 0 {
				top := openDecls[len(openDecls)-1]
				if top.python || braceDepth > top.depth {
					break
				}
				result.Functions[top.index].EndLine = lineNo
				openDecls = openDecls[:len(openDecls)-1]
			}
			if classDepth >= 0 && braceDepth <= classDepth {
				if n := len(result.Classes); n > 0 {
					result.Classes[n-1].EndLine = lineNo
				}
				currentClass = ""
				classDepth = -1
			}
		}
	}

	// Anything still open ends at EOF. A trailing newline yields one empty
	// split element; do not count it as a line of the last function.
	last := len(lines)
	if last > 0 && strings.TrimSpace(lines[last-1]) == "" {
		last--
	}
	for _, d := range openDecls {
		result.Functions[d.index].EndLine = last
	}
	if classDepth >= 0 {
		if n := len(result.Classes); n > 0 {
			result.Classes[n-1].EndLine = last
		}
	}

	return result, nil
}

func (f *FallbackExtractor) matchFunction(line string) (FunctionInfo, bool) {
	type match struct {
		re     *regexp.Regexp
		method bool
	}
	for _, m := range []match{
		{reFuncDecl, false},
		{rePyDef, true},
		{reGoFunc, false},
		{reArrowFn, false},
	} {
		if sm := m.re.FindStringSubmatch(line); sm != nil {
			return FunctionInfo{
				Name:       sm[1],
				IsMethod:   m.method && strings.Contains(line, "self"),
				IsAsync:    strings.Contains(line, "async "),
				IsStatic:   strings.Contains(line, "static "),
				IsExported: strings.Contains(line, "export ") || isUpperInitial(sm[1]),
			}, true
		}
	}
	// Bare method shape only counts when it is not a control-flow keyword.
	if sm := reMethod.FindStringSubmatch(line); sm != nil && !callKeywords[sm[1]] {
		return FunctionInfo{
			Name:       sm[1],
			IsMethod:   true,
			IsAsync:    strings.Contains(line, "async "),
			IsStatic:   strings.Contains(line, "static "),
			IsExported: true,
		}, true
	}
	return FunctionInfo{}, false
}

func (f *FallbackExtractor) scanCalls(result *FileResult, line string, lineNo int) {
	for _, m := range reNew.FindAllStringSubmatchIndex(line, -1) {
		name := line[m[2]:m[3]]
		result.Calls = append(result.Calls, CallInfo{
			CalleeName:        lastSegment(name),
			Line:              lineNo,
			Column:            m[0],
			ArgumentCount:     countArgs(line[m[1]:]),
			IsConstructorCall: true,
		})
	}
	for _, m := range reCall.FindAllStringSubmatchIndex(line, -1) {
		name := line[m[4]:m[5]]
		if callKeywords[name] {
			continue
		}
		receiver := ""
		if m[2] >= 0 {
			receiver = line[m[2]:m[3]]
		}
		// Skip what reNew already claimed.
		if strings.HasSuffix(strings.TrimSpace(line[:m[0]]), "new") {
			continue
		}
		result.Calls = append(result.Calls, CallInfo{
			CalleeName:    name,
			Receiver:      receiver,
			Line:          lineNo,
			Column:        m[0],
			ArgumentCount: countArgs(line[m[1]:]),
			IsMethodCall:  receiver != "",
		})
	}
}

func (f *FallbackExtractor) scanImports(result *FileResult, line string, lineNo int) {
	if m := reImportFrom.FindStringSubmatch(line); m != nil {
		imp := ImportInfo{Source: m[2], Line: lineNo}
		clause := m[1]
		if idx := strings.Index(clause, "{"); idx >= 0 {
			end := strings.Index(clause, "}")
			if end < 0 {
				end = len(clause)
			}
			for _, part := range strings.Split(clause[idx+1:end], ",") {
				name := strings.TrimSpace(part)
				// "foo as bar" binds bar locally.
				if asIdx := strings.Index(name, " as "); asIdx >= 0 {
					name = strings.TrimSpace(name[asIdx+4:])
				}
				if name != "" {
					imp.Named = append(imp.Named, name)
				}
			}
			if def := strings.TrimSuffix(strings.TrimSpace(clause[:idx]), ","); def != "" {
				imp.Default = def
			}
		} else if strings.HasPrefix(strings.TrimSpace(clause), "*") {
			if asIdx := strings.Index(clause, " as "); asIdx >= 0 {
				imp.Namespace = strings.TrimSpace(clause[asIdx+4:])
			}
		} else {
			imp.Default = strings.TrimSpace(clause)
		}
		result.Imports = append(result.Imports, imp)
		return
	}
	if m := reImportBare.FindStringSubmatch(line); m != nil {
		result.Imports = append(result.Imports, ImportInfo{Source: m[1], Line: lineNo})
		return
	}
	if m := reRequire.FindStringSubmatch(line); m != nil {
		result.Imports = append(result.Imports, ImportInfo{Source: m[2], Default: m[1], Line: lineNo})
		return
	}
	if m := rePyFrom.FindStringSubmatch(line); m != nil {
		imp := ImportInfo{Source: m[1], Line: lineNo}
		for _, part := range strings.Split(m[2], ",") {
			name := strings.TrimSpace(part)
			if asIdx := strings.Index(name, " as "); asIdx >= 0 {
				name = strings.TrimSpace(name[asIdx+4:])
			}
			if name != "" && name != "*" {
				imp.Named = append(imp.Named, name)
			}
		}
		result.Imports = append(result.Imports, imp)
		return
	}
	if m := rePyImport.FindStringSubmatch(line); m != nil && !strings.Contains(line, "from") {
		result.Imports = append(result.Imports, ImportInfo{Source: m[1], Line: lineNo})
	}
}

func (f *FallbackExtractor) scanExports(result *FileResult, line string, lineNo int) {
	if m := reExportNamed.FindStringSubmatch(line); m != nil {
		result.Exports = append(result.Exports, ExportInfo{Name: m[1], Line: lineNo})
		return
	}
	if reExportDefault.MatchString(line) {
		result.Exports = append(result.Exports, ExportInfo{Name: "default", IsDefault: true, Line: lineNo})
	}
}

// countArgs estimates the argument count of the call whose open paren starts
// rest. It counts top-level commas up to the matching close paren.
func countArgs(rest string) int {
	depth := 0
	args := 0
	sawToken := false
	for _, r := range rest {
		switch r {
		case '(', '[', '{':
			depth++
			sawToken = true
		case ')', ']', '}':
			depth--
			if depth < 0 {
				if sawToken {
					args++
				}
				return args
			}
		case ',':
			if depth == 0 {
				args++
				sawToken = false
			}
		default:
			if !isSpace(r) {
				sawToken = true
			}
		}
	}
	if sawToken {
		args++
	}
	return args
}

func stripLineComment(line string) string {
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, "#"); idx >= 0 && !strings.Contains(line[:idx], "\"") {
		line = line[:idx]
	}
	return line
}

func lastSegment(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func isUpperInitial(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}
