//go:build tools
// +build tools

// Package tools declares Go tool dependencies so `go mod tidy` keeps them
// in go.sum without any non-test, non-tools code importing them directly.
package tools

import (
	_ "golang.org/x/lint/golint"
	_ "golang.org/x/tools/cmd/stringer"
)
