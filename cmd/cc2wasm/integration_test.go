package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// buildSource compiles src with the given extra flags and returns the
// emitted module bytes.
func buildSource(t *testing.T, src string, flags ...string) []byte {
	t.Helper()
	dir := t.TempDir()
	in := writeFile(t, dir, "prog.c", src)
	out := filepath.Join(dir, "prog.wasm")
	args := append([]string{"build", in, "-o", out}, flags...)
	code, _, stderr := runCLI(t, args...)
	if code != exitOK {
		t.Fatalf("exit = %d, want 0\nstderr: %s", code, stderr)
	}
	bin, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading module: %v", err)
	}
	if !bytes.HasPrefix(bin, wasmMagic) {
		t.Fatalf("module prefix = % x, want % x", bin[:8], wasmMagic)
	}
	return bin
}

const fibProgram = `
int fib(int n) {
	if (n < 2) return n;
	return fib(n - 1) + fib(n - 2);
}

int main() {
	int i;
	for (i = 0; i < 10; i = i + 1) {
		printf("%d: %d\n", i, fib(i));
	}
	return 0;
}
`

const gcdProgram = `
int gcd(int a, int b) {
	if (b == 0) return a;
	return gcd(b, a % b);
}

int main() {
	printf("gcd(31487, 21933) = %d\n", gcd(31487, 21933));
	return 0;
}
`

const sumIterativeProgram = `
long sum(long n) {
	long acc = 0;
	long i;
	for (i = 1; i <= n; i = i + 1) {
		acc = acc + i;
	}
	return acc;
}

int main() {
	printf("%ld\n", sum(100000));
	return 0;
}
`

const sumTailRecursiveProgram = `
long sum_acc(long acc, long n) {
	if (n == 0) return acc;
	return sum_acc(acc + n, n - 1);
}

int main() {
	printf("%ld\n", sum_acc(0, 100000));
	return 0;
}
`

const lifeProgram = `
int count_neighbours(int grid[3][3], int r, int c) {
	int n = 0;
	int dr;
	int dc;
	for (dr = -1; dr <= 1; dr = dr + 1) {
		for (dc = -1; dc <= 1; dc = dc + 1) {
			int rr = r + dr;
			int cc = c + dc;
			if (dr == 0 && dc == 0) continue;
			if (rr < 0 || rr > 2 || cc < 0 || cc > 2) continue;
			n = n + grid[rr][cc];
		}
	}
	return n;
}

void print_grid(int grid[3][3]) {
	int r;
	int c;
	for (r = 0; r < 3; r = r + 1) {
		for (c = 0; c < 3; c = c + 1) {
			printf("%d", grid[r][c]);
		}
		printf("\n");
	}
}

int main() {
	int grid[3][3];
	int next[3][3];
	int r;
	int c;
	for (r = 0; r < 3; r = r + 1) {
		for (c = 0; c < 3; c = c + 1) {
			grid[r][c] = 0;
		}
	}
	grid[0][1] = 1;
	grid[1][1] = 1;
	grid[2][1] = 1;
	print_grid(grid);
	for (r = 0; r < 3; r = r + 1) {
		for (c = 0; c < 3; c = c + 1) {
			int n = count_neighbours(grid, r, c);
			if (grid[r][c] == 1) {
				next[r][c] = (n == 2 || n == 3) ? 1 : 0;
			} else {
				next[r][c] = (n == 3) ? 1 : 0;
			}
		}
	}
	print_grid(next);
	return 0;
}
`

const strtolProgram = `
int main() {
	char *str = "   56abc";
	char *end;
	long v = strtol(str, &end, 10);
	printf("%ld %d\n", v, (int)(end - str));
	printf("%ld\n", strtol("-120", 0, 10));
	return 0;
}
`

const wildcardProgram = `
int wildcardcmp(char *pattern, char *str) {
	if (*pattern == 0) return *str == 0;
	if (*pattern == '*') {
		if (wildcardcmp(pattern + 1, str)) return 1;
		if (*str != 0) return wildcardcmp(pattern, str + 1);
		return 0;
	}
	if (*str == *pattern) return wildcardcmp(pattern + 1, str + 1);
	return 0;
}

int main() {
	printf("%d\n", wildcardcmp("f*b*r", "foobar"));
	printf("%d\n", wildcardcmp("FOOBAR", "foobar"));
	return 0;
}
`

func TestCompileFib(t *testing.T) {
	bin := buildSource(t, fibProgram)
	if !bytes.Contains(bin, append([]byte("%d: %d\n"), 0)) {
		t.Errorf("format string missing from the data segment")
	}
}

func TestCompileGcd(t *testing.T) {
	buildSource(t, gcdProgram)
}

func TestCompileSumIterative(t *testing.T) {
	buildSource(t, sumIterativeProgram)
}

func TestCompileSumTailRecursive(t *testing.T) {
	withTCO := buildSource(t, sumTailRecursiveProgram)
	withoutTCO := buildSource(t, sumTailRecursiveProgram, "--no-tailcall-opt")
	if bytes.Equal(withTCO, withoutTCO) {
		t.Errorf("tail-call optimisation did not change the emitted module")
	}
}

func TestCompileGameOfLifeBlinker(t *testing.T) {
	buildSource(t, lifeProgram)
}

func TestCompileStrtol(t *testing.T) {
	buildSource(t, strtolProgram)
}

func TestCompileWildcardcmp(t *testing.T) {
	buildSource(t, wildcardProgram)
}

func TestCompileWithAndWithoutStackPacking(t *testing.T) {
	packed := buildSource(t, lifeProgram)
	unpacked := buildSource(t, lifeProgram, "--no-stack-opt")
	if !bytes.HasPrefix(unpacked, wasmMagic) {
		t.Fatalf("unpacked module is not a Wasm module")
	}
	// Both must compile; frame layouts differ but the data segment (the
	// format strings) is identical.
	if !bytes.Contains(packed, append([]byte("%d"), 0)) || !bytes.Contains(unpacked, append([]byte("%d"), 0)) {
		t.Errorf("format string missing from a variant's data segment")
	}
}

func TestCompileDeterministic(t *testing.T) {
	a := buildSource(t, fibProgram)
	b := buildSource(t, fibProgram)
	if !bytes.Equal(a, b) {
		t.Errorf("two builds of the same source differ")
	}
}

func TestCompileGotoIntoLoopUsesDispatchFallback(t *testing.T) {
	// goto into a loop body makes the CFG irreducible; the module must
	// still compile via the dispatch-loop encoding.
	buildSource(t, `
int f(int n) {
	int s = 0;
	if (n > 5) goto inside;
	while (n > 0) {
	inside:
		s = s + n;
		n = n - 1;
	}
	return s;
}
int main() { return f(7); }
`)
}

func TestCompileStructAndTypedef(t *testing.T) {
	buildSource(t, `
typedef struct point { int x; int y; } point;

int manhattan(point *p) {
	int ax = p->x;
	int ay = p->y;
	if (ax < 0) ax = -ax;
	if (ay < 0) ay = -ay;
	return ax + ay;
}

int main() {
	point p;
	p.x = -3;
	p.y = 4;
	printf("%d\n", manhattan(&p));
	return 0;
}
`)
}

func TestCompileFunctionPointer(t *testing.T) {
	buildSource(t, `
int twice(int x) { return x * 2; }
int thrice(int x) { return x * 3; }

int apply(int (*f)(int), int x) { return f(x); }

int main() {
	printf("%d %d\n", apply(twice, 10), apply(&thrice, 10));
	return 0;
}
`)
}
