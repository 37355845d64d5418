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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	lang Language
	exts []string
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte, path string) (*FileResult, error) {
	return &FileResult{File: path, Language: s.lang}, nil
}

func (s *stubExtractor) Language() Language   { return s.lang }
func (s *stubExtractor) Extensions() []string { return s.exts }

func TestLanguageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"src/app.ts", LanguageTypeScript},
		{"src/App.TSX", LanguageTypeScript},
		{"lib/index.js", LanguageJavaScript},
		{"api/views.py", LanguagePython},
		{"Main.java", LanguageJava},
		{"Service.cs", LanguageCSharp},
		{"index.php", LanguagePHP},
		{"main.go", LanguageGo},
		{"lib.rs", LanguageRust},
		{"core.cpp", LanguageCpp},
		{"util.c", LanguageC},
		{"README.md", LanguageUnknown},
		{"Makefile", LanguageUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LanguageFromPath(tt.path), "path %s", tt.path)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	ts := &stubExtractor{lang: LanguageTypeScript, exts: []string{".ts", ".tsx"}}
	py := &stubExtractor{lang: LanguagePython, exts: []string{".py"}}
	r.Register(ts)
	r.Register(py)

	got, ok := r.ForLanguage(LanguagePython)
	require.True(t, ok)
	assert.Same(t, py, got.(*stubExtractor))

	got, ok = r.ForPath("src/components/App.tsx")
	require.True(t, ok)
	assert.Same(t, ts, got.(*stubExtractor))

	_, ok = r.ForPath("main.rb")
	assert.False(t, ok, "no extractor and no fallback for .rb")

	assert.ElementsMatch(t, []Language{LanguageTypeScript, LanguagePython}, r.Languages())
	assert.ElementsMatch(t, []string{".ts", ".tsx", ".py"}, r.Extensions())
}

func TestRegistryFallback(t *testing.T) {
	r := NewRegistry()
	r.SetFallback(NewFallbackExtractor())

	got, ok := r.ForPath("scripts/deploy.rb")
	require.True(t, ok)
	_, isFallback := got.(*FallbackExtractor)
	assert.True(t, isFallback)
}

func TestRegistryExtractUnsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Extract(context.Background(), []byte("x"), "a.rb")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))

	var ee *ExtractError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "a.rb", ee.File)
}

func TestRegistryRegisterNil(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	assert.Empty(t, r.Languages())
}

func TestFallbackTypeScript(t *testing.T) {
	src := `import { UserRepo } from './user-repo';
import express from 'express';

export class UserService {
  constructor(repo) {
    this.repo = repo;
  }

  async findUser(id) {
    return this.repo.findById(id);
  }
}

export function handleRequest(req, res) {
  const svc = new UserService(makeRepo());
  return svc.findUser(req.params.id);
}
`
	result, err := NewFallbackExtractor().Extract(context.Background(), []byte(src), "src/user-service.ts")
	require.NoError(t, err)

	assert.Equal(t, "src/user-service.ts", result.File)
	assert.Equal(t, LanguageTypeScript, result.Language)

	require.Len(t, result.Classes, 1)
	assert.Equal(t, "UserService", result.Classes[0].Name)
	assert.Equal(t, 4, result.Classes[0].StartLine)
	assert.Equal(t, 12, result.Classes[0].EndLine)

	byName := map[string]FunctionInfo{}
	for _, fn := range result.Functions {
		byName[fn.Name] = fn
	}

	ctor, ok := byName["constructor"]
	require.True(t, ok)
	assert.True(t, ctor.IsConstructor)
	assert.Equal(t, "UserService", ctor.ClassName)
	assert.Equal(t, "UserService.constructor", ctor.QualifiedName)

	find, ok := byName["findUser"]
	require.True(t, ok)
	assert.True(t, find.IsMethod)
	assert.True(t, find.IsAsync)
	assert.Equal(t, 9, find.StartLine)
	assert.Equal(t, 11, find.EndLine)

	handle, ok := byName["handleRequest"]
	require.True(t, ok)
	assert.True(t, handle.IsExported)
	assert.Empty(t, handle.ClassName)

	var sawMethodCall, sawCtorCall bool
	for _, c := range result.Calls {
		if c.CalleeName == "findById" && c.IsMethodCall {
			sawMethodCall = true
			assert.Equal(t, "this.repo", c.Receiver)
			assert.Equal(t, 1, c.ArgumentCount)
		}
		if c.CalleeName == "UserService" && c.IsConstructorCall {
			sawCtorCall = true
		}
	}
	assert.True(t, sawMethodCall, "expected this.repo.findById call")
	assert.True(t, sawCtorCall, "expected new UserService call")

	require.Len(t, result.Imports, 2)
	assert.Equal(t, "./user-repo", result.Imports[0].Source)
	assert.Equal(t, []string{"UserRepo"}, result.Imports[0].Named)
	assert.Equal(t, "express", result.Imports[1].Source)
	assert.Equal(t, "express", result.Imports[1].Default)

	exported := map[string]bool{}
	for _, e := range result.Exports {
		exported[e.Name] = true
	}
	assert.True(t, exported["UserService"])
	assert.True(t, exported["handleRequest"])
}

func TestFallbackPython(t *testing.T) {
	src := `from flask import Flask
import db

app = Flask(__name__)

@app.route('/users/<id>')
def get_user(id):
    row = db.query(id)
    return render(row)

def render(row):
    return str(row)
`
	result, err := NewFallbackExtractor().Extract(context.Background(), []byte(src), "api/users.py")
	require.NoError(t, err)

	require.Len(t, result.Functions, 2)

	get := result.Functions[0]
	assert.Equal(t, "get_user", get.Name)
	assert.Equal(t, []string{"@app.route('/users/<id>')"}, get.Decorators)
	assert.Equal(t, 7, get.StartLine)
	assert.Equal(t, 10, get.EndLine)

	rend := result.Functions[1]
	assert.Equal(t, "render", rend.Name)
	assert.Equal(t, 12, rend.EndLine, "open def runs to EOF")

	sources := []string{}
	for _, imp := range result.Imports {
		sources = append(sources, imp.Source)
	}
	assert.Equal(t, []string{"flask", "db"}, sources)

	var sawQuery bool
	for _, c := range result.Calls {
		if c.CalleeName == "query" {
			sawQuery = true
			assert.Equal(t, "db", c.Receiver)
		}
	}
	assert.True(t, sawQuery)
}

func TestFallbackInvalidContent(t *testing.T) {
	_, err := NewFallbackExtractor().Extract(context.Background(), []byte{0xff, 0xfe, 0xfd}, "bin.dat")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidContent))
}

func TestFallbackCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFallbackExtractor().Extract(ctx, []byte("function a() {}\n"), "a.js")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
