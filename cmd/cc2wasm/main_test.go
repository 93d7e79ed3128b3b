package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunNoArgsIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, "build")
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestRunUnknownFlagIsUsageError(t *testing.T) {
	code, _, _ := runCLI(t, "build", "--frobnicate", "x.c")
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestRunMissingInputIsUsageError(t *testing.T) {
	code, _, stderr := runCLI(t, "build", filepath.Join(t.TempDir(), "missing.c"))
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d (stderr: %s)", code, exitUsage, stderr)
	}
	if !strings.Contains(stderr, "I/O error") {
		t.Errorf("stderr %q does not name the I/O error", stderr)
	}
}

func TestRunParseErrorExitsFrontend(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.c", `int main( { return 0; }`)
	code, _, stderr := runCLI(t, "build", src, "-o", filepath.Join(dir, "bad.wasm"))
	if code != exitFrontend {
		t.Fatalf("exit = %d, want %d (stderr: %s)", code, exitFrontend, stderr)
	}
}

func TestRunSemanticErrorExitsFrontend(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "undef.c", `int main() { return nope; }`)
	code, _, stderr := runCLI(t, "build", src, "-o", filepath.Join(dir, "undef.wasm"))
	if code != exitFrontend {
		t.Fatalf("exit = %d, want %d", code, exitFrontend)
	}
	if !strings.Contains(stderr, "undefined symbol") {
		t.Errorf("stderr %q does not name the undefined symbol", stderr)
	}
}

func TestRunBadLogLevelIsUsageError(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "ok.c", `int main() { return 0; }`)
	code, _, _ := runCLI(t, "build", src, "--log", "chatty")
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
}

func TestBuildWritesModule(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "ok.c", `int main() { return 0; }`)
	out := filepath.Join(dir, "ok.wasm")
	code, _, stderr := runCLI(t, "build", src, "-o", out)
	if code != exitOK {
		t.Fatalf("exit = %d, want 0 (stderr: %s)", code, stderr)
	}
	bin, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	magic := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if !bytes.HasPrefix(bin, magic) {
		t.Fatalf("output prefix = % x, want % x", bin[:8], magic)
	}
}

func TestBuildDefaultOutputName(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "prog.c", `int main() { return 0; }`)
	code, _, stderr := runCLI(t, "build", src)
	if code != exitOK {
		t.Fatalf("exit = %d (stderr: %s)", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "prog.wasm")); err != nil {
		t.Fatalf("default output file not written: %v", err)
	}
}

func TestBuildEmitIRPrintsIR(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "ok.c", `int add(int a, int b) { return a + b; }
int main() { return add(1, 2); }`)
	code, stdout, _ := runCLI(t, "build", src, "-o", filepath.Join(dir, "ok.wasm"), "--emit-ir")
	if code != exitOK {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(stdout, "func add") || !strings.Contains(stdout, "func main") {
		t.Errorf("IR dump missing functions:\n%s", stdout)
	}
}

func TestDumpTokensAndAST(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "ok.c", `int main() { return 42; }`)
	code, stdout, _ := runCLI(t, "dump", src, "--emit-tokens", "--emit-ast")
	if code != exitOK {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(stdout, "\"42\"") {
		t.Errorf("token dump missing the literal:\n%s", stdout)
	}
	if !strings.Contains(stdout, "main") {
		t.Errorf("AST dump missing the function name:\n%s", stdout)
	}
}

func TestProfileDisablesPasses(t *testing.T) {
	dir := t.TempDir()
	prof := writeFile(t, dir, "baseline.yaml", `optimisations:
  stack_packing: false
  tailcall: false
`)
	p, err := loadProfile(prof)
	if err != nil {
		t.Fatalf("loading profile: %v", err)
	}
	if p.packing() {
		t.Errorf("stack_packing: false not honoured")
	}
	if p.tailcall() {
		t.Errorf("tailcall: false not honoured")
	}
	if !p.dce() {
		t.Errorf("unset dce must default to on")
	}
}

func TestProfileBuildSucceeds(t *testing.T) {
	dir := t.TempDir()
	prof := writeFile(t, dir, "baseline.yaml", `optimisations:
  stack_packing: false
  tailcall: false
`)
	src := writeFile(t, dir, "sum.c", `long sum(long acc, long n) {
	if (n == 0) return acc;
	return sum(acc + n, n - 1);
}
int main() { printf("%ld\n", sum(0, 100)); return 0; }`)
	code, _, stderr := runCLI(t, "build", src, "-o", filepath.Join(dir, "sum.wasm"), "--profile", prof)
	if code != exitOK {
		t.Fatalf("exit = %d (stderr: %s)", code, stderr)
	}
}

func TestExpandIncludesConcatenates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "defs.h", `typedef int myint;
`)
	src := writeFile(t, dir, "main.c", `#include "defs.h"
#include <stdio.h>
myint main() { return 0; }
`)
	out, err := expandIncludes(src, make(map[string]bool))
	if err != nil {
		t.Fatalf("expandIncludes: %v", err)
	}
	if !strings.Contains(out, "typedef int myint;") {
		t.Errorf("quoted include not spliced in:\n%s", out)
	}
	if strings.Contains(out, "#include") {
		t.Errorf("directives must not survive expansion:\n%s", out)
	}
}

func TestExpandIncludesOncePerFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "defs.h", `typedef int once;
`)
	src := writeFile(t, dir, "main.c", `#include "defs.h"
#include "defs.h"
once main() { return 0; }
`)
	out, err := expandIncludes(src, make(map[string]bool))
	if err != nil {
		t.Fatalf("expandIncludes: %v", err)
	}
	if n := strings.Count(out, "typedef int once;"); n != 1 {
		t.Errorf("header spliced %d times, want once", n)
	}
}
