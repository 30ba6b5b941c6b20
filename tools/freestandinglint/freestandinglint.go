// Command freestandinglint loads the kernel package graph and fails if
// anything outside a small freestanding-safe allow-list got linked in: the
// kernel binary has no libc, no syscalls, and boots with no Go runtime
// scheduler running, so any package pulling in goroutines, files, or
// network code would build fine on the host and then crash or hang on real
// hardware. This is the same static-introspection idea tools/redirects uses
// (parsing the compiled artifact instead of trusting the source), applied
// one layer up at the package-graph level instead of the compiled binary.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// allowedImport reports whether pkgPath may appear in the kernel's import
// graph. The kernel tree itself (github.com/gitrustux/rustica/kernel/...)
// is always allowed; everything else must be one of a handful of stdlib
// packages with no OS dependency.
var allowedStdlib = map[string]bool{
	"unsafe":  true,
	"runtime": true,
	"math":    true,
	"sort":    true,
	"io":      true,
	"bytes":   true,
	"errors":  true,
}

func allowedImport(pkgPath, kernelModulePrefix string) bool {
	if strings.HasPrefix(pkgPath, kernelModulePrefix) {
		return true
	}
	return allowedStdlib[pkgPath]
}

func check(pattern, kernelModulePrefix string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedImports | packages.NeedDeps | packages.NeedName}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var violations []string

	var walk func(pkg *packages.Package)
	walk = func(pkg *packages.Package) {
		if seen[pkg.PkgPath] {
			return
		}
		seen[pkg.PkgPath] = true

		if !allowedImport(pkg.PkgPath, kernelModulePrefix) {
			violations = append(violations, pkg.PkgPath)
		}
		for _, imp := range pkg.Imports {
			walk(imp)
		}
	}

	for _, pkg := range pkgs {
		walk(pkg)
	}

	sort.Strings(violations)
	return violations, nil
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[freestandinglint] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	pattern := flag.String("pattern", "./kernel/...", "package pattern to check")
	prefix := flag.String("module-prefix", "github.com/gitrustux/rustica/", "kernel module prefix always considered safe")
	flag.Parse()

	violations, err := check(*pattern, *prefix)
	if err != nil {
		exit(err)
	}

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "[freestandinglint] disallowed import: %s\n", v)
		}
		exit(errors.New("kernel package graph pulled in non-freestanding-safe packages"))
	}
}
