// Command cc2wasm compiles a subset of C to a WebAssembly 1.0 binary
// module. The pipeline runs lexing, parsing, semantic analysis and IR
// construction, dead-code elimination, tail-call optimisation, liveness
// analysis, stack-slot packing, and binary emission; each stage can be
// toggled or dumped from the command line.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/cc2wasm/cc2wasm/internal/clog"
	"github.com/cc2wasm/cc2wasm/pkg/ast"
	"github.com/cc2wasm/cc2wasm/pkg/diag"
	"github.com/cc2wasm/cc2wasm/pkg/ir"
	"github.com/cc2wasm/cc2wasm/pkg/lexer"
	"github.com/cc2wasm/cc2wasm/pkg/opt"
	"github.com/cc2wasm/cc2wasm/pkg/parser"
	"github.com/cc2wasm/cc2wasm/pkg/sema"
	"github.com/cc2wasm/cc2wasm/pkg/stackalloc"
	"github.com/cc2wasm/cc2wasm/pkg/tco"
	"github.com/cc2wasm/cc2wasm/pkg/wasm"
)

var version = "0.1.0"

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 1
	exitFrontend = 2 // parse or semantic error
	exitInternal = 3 // IR or emission failure
)

// Profile selects which optimisation passes run, so two named profiles can
// be A/B-compared without recompiling the compiler itself. Nil fields fall
// back to the built-in default (the pass is on).
type Profile struct {
	Optimisations struct {
		DCE          *bool `yaml:"dce"`
		StackPacking *bool `yaml:"stack_packing"`
		Tailcall     *bool `yaml:"tailcall"`
	} `yaml:"optimisations"`
}

func (p *Profile) dce() bool      { return p.Optimisations.DCE == nil || *p.Optimisations.DCE }
func (p *Profile) packing() bool  { return p.Optimisations.StackPacking == nil || *p.Optimisations.StackPacking }
func (p *Profile) tailcall() bool { return p.Optimisations.Tailcall == nil || *p.Optimisations.Tailcall }

// buildConfig is everything one compilation needs, assembled from flags
// and the optional profile file before the pipeline starts.
type buildConfig struct {
	output        string
	noStackOpt    bool
	noTailcallOpt bool
	emitTokens    bool
	emitAST       bool
	emitIR        bool
	emitOptIR     bool
	profilePath   string
	logLevel      string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	code := exitOK
	root := newRootCmd(out, errOut, &code)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.Execute(); err != nil {
		if code == exitOK {
			return exitUsage
		}
		return code
	}
	return code
}

func newRootCmd(out, errOut io.Writer, code *int) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cc2wasm",
		Short:         "A C-to-WebAssembly compiler",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newBuildCmd(out, errOut, code))
	rootCmd.AddCommand(newDumpCmd(out, errOut, code))
	return rootCmd
}

// normalizeFlagName lets underscore spellings (--no_stack_opt) resolve to
// their canonical dashed names.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newBuildCmd(out, errOut io.Writer, code *int) *cobra.Command {
	cfg := &buildConfig{}
	cmd := &cobra.Command{
		Use:   "build <source.c>",
		Short: "Compile a C source file to a Wasm module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = buildMain(args[0], cfg, out, errOut)
			if *code != exitOK {
				return fmt.Errorf("build failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfg.output, "output", "o", "", "Output module path (default: source name with .wasm)")
	cmd.Flags().BoolVar(&cfg.noStackOpt, "no-stack-opt", false, "Give every local its own stack slot (no interval packing)")
	cmd.Flags().BoolVar(&cfg.noTailcallOpt, "no-tailcall-opt", false, "Disable tail-call optimisation")
	cmd.Flags().BoolVar(&cfg.emitIR, "emit-ir", false, "Print the IR after the optimisation passes (the unoptimised IR is not printed)")
	cmd.Flags().StringVar(&cfg.profilePath, "profile", "", "Optimisation profile file (YAML)")
	cmd.Flags().StringVar(&cfg.logLevel, "log", "warn", "Log verbosity: error, warn, info, debug, trace")
	cmd.Flags().SetNormalizeFunc(normalizeFlagName)
	return cmd
}

func newDumpCmd(out, errOut io.Writer, code *int) *cobra.Command {
	cfg := &buildConfig{}
	cmd := &cobra.Command{
		Use:   "dump <source.c>",
		Short: "Print intermediate pipeline stages without emitting a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = dumpMain(args[0], cfg, out, errOut)
			if *code != exitOK {
				return fmt.Errorf("dump failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cfg.emitTokens, "emit-tokens", false, "Print the token stream")
	cmd.Flags().BoolVar(&cfg.emitAST, "emit-ast", false, "Print the parsed AST")
	cmd.Flags().BoolVar(&cfg.emitIR, "emit-ir", false, "Print the IR after the optimisation passes (same output as --emit-opt-ir)")
	cmd.Flags().BoolVar(&cfg.emitOptIR, "emit-opt-ir", false, "Print the IR after optimisation")
	cmd.Flags().BoolVar(&cfg.noStackOpt, "no-stack-opt", false, "Give every local its own stack slot (no interval packing)")
	cmd.Flags().BoolVar(&cfg.noTailcallOpt, "no-tailcall-opt", false, "Disable tail-call optimisation")
	cmd.Flags().StringVar(&cfg.logLevel, "log", "warn", "Log verbosity: error, warn, info, debug, trace")
	cmd.Flags().SetNormalizeFunc(normalizeFlagName)
	return cmd
}

func loadProfile(path string) (*Profile, error) {
	p := &Profile{}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// expandIncludes resolves #include lines by textual concatenation: a
// quoted or bracketed name is looked up relative to the including file and
// spliced in, once per distinct file. Any other preprocessor directive is
// dropped.
func expandIncludes(path string, seen map[string]bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if seen[abs] {
		return "", nil
	}
	seen[abs] = true
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		if !strings.HasPrefix(trimmed, "#include") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(trimmed, "#include"))
		name = strings.Trim(name, `"<>`)
		inc := filepath.Join(filepath.Dir(path), name)
		if _, statErr := os.Stat(inc); statErr != nil {
			// Headers not shipped alongside the source (stdio.h and
			// friends) only declare functions the compiler already
			// treats as built in.
			continue
		}
		body, err := expandIncludes(inc, seen)
		if err != nil {
			return "", err
		}
		sb.WriteString(body)
	}
	return sb.String(), nil
}

// compileResult is the pipeline's output for one translation unit.
type compileResult struct {
	tokens []lexer.Token
	prog   *ast.Program
	mod    *ir.Module
	binary []byte
}

// compile runs the full pipeline over src. Frontend diagnostics come back
// in errs; a fatal IR/emission problem comes back in fatalErr.
func compile(src string, cfg *buildConfig, prof *Profile, log *clog.Logger, wantTokens bool) (res compileResult, errs []*diag.Error, fatalErr *diag.Error) {
	if wantTokens {
		l := lexer.New(src)
		for {
			tok := l.NextToken()
			res.tokens = append(res.tokens, tok)
			if tok.Type == lexer.TokenEOF {
				break
			}
		}
	}

	log.Debug("parsing")
	p := parser.New(lexer.New(src))
	res.prog = p.ParseProgram()
	if len(p.Errors()) > 0 {
		return res, p.Errors(), nil
	}

	log.Debug("semantic analysis")
	mod, semErrs := sema.Build(res.prog)
	if len(semErrs) > 0 {
		return res, semErrs, nil
	}
	res.mod = mod

	frames := make(map[string]stackalloc.Frame, len(mod.Functions))
	for _, fn := range mod.Functions {
		if prof.dce() {
			log.Trace("dce: %s", fn.Name)
			opt.Run(fn)
		}
		if prof.tailcall() && !cfg.noTailcallOpt {
			log.Trace("tco: %s", fn.Name)
			tco.Run(fn)
		}
		live := opt.AnalyzeLiveness(fn)
		log.Trace("liveness: %s: %d blocks, %d regs live out of entry",
			fn.Name, len(fn.Blocks), len(live.LiveOut[fn.Entry]))
		intervals := stackalloc.ComputeIntervals(fn, live)
		packed := prof.packing() && !cfg.noStackOpt
		frame := stackalloc.Allocate(fn, intervals, packed)
		log.Debug("frame %s: %d bytes (%d locals, packed=%v)", fn.Name, frame.Size, len(frame.Offsets), packed)
		frames[fn.Name] = frame
	}

	opts := wasm.DefaultOptions()
	opts.Frames = frames
	bin, emitErr := wasm.Emit(mod, opts)
	if emitErr != nil {
		return res, nil, emitErr
	}
	res.binary = bin
	return res, nil, nil
}

func reportErrors(errOut io.Writer, errs []*diag.Error) {
	for _, e := range errs {
		fmt.Fprintln(errOut, e.Error())
	}
}

func setup(path string, cfg *buildConfig, errOut io.Writer) (string, *Profile, *clog.Logger, int) {
	level, err := clog.ParseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(errOut, "cc2wasm: %v\n", err)
		return "", nil, nil, exitUsage
	}
	log := clog.New(errOut, level)

	prof, err := loadProfile(cfg.profilePath)
	if err != nil {
		fmt.Fprintln(errOut, diag.IOf("reading profile: %v", err).Error())
		return "", nil, nil, exitUsage
	}

	src, err := expandIncludes(path, make(map[string]bool))
	if err != nil {
		fmt.Fprintln(errOut, diag.IOf("reading %s: %v", path, err).Error())
		return "", nil, nil, exitUsage
	}
	return src, prof, log, exitOK
}

func buildMain(path string, cfg *buildConfig, out, errOut io.Writer) int {
	src, prof, log, rc := setup(path, cfg, errOut)
	if rc != exitOK {
		return rc
	}

	res, errs, fatal := compile(src, cfg, prof, log, false)
	if len(errs) > 0 {
		reportErrors(errOut, errs)
		return exitFrontend
	}
	if fatal != nil {
		fmt.Fprintln(errOut, fatal.Error())
		return exitInternal
	}
	if cfg.emitIR {
		fmt.Fprint(out, res.mod.String())
	}

	output := cfg.output
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".wasm"
	}
	if err := os.WriteFile(output, res.binary, 0o644); err != nil {
		fmt.Fprintln(errOut, diag.IOf("writing %s: %v", output, err).Error())
		return exitUsage
	}
	log.Info("wrote %s (%d bytes)", output, len(res.binary))
	return exitOK
}

func dumpMain(path string, cfg *buildConfig, out, errOut io.Writer) int {
	src, prof, log, rc := setup(path, cfg, errOut)
	if rc != exitOK {
		return rc
	}

	res, errs, fatal := compile(src, cfg, prof, log, cfg.emitTokens)
	if cfg.emitTokens {
		for _, tok := range res.tokens {
			fmt.Fprintf(out, "%s %q\n", tok.Type, tok.Literal)
		}
	}
	if len(errs) > 0 {
		reportErrors(errOut, errs)
		return exitFrontend
	}
	if fatal != nil {
		fmt.Fprintln(errOut, fatal.Error())
		return exitInternal
	}
	if cfg.emitAST {
		fmt.Fprint(out, ast.Print(res.prog))
	}
	if cfg.emitIR || cfg.emitOptIR {
		fmt.Fprint(out, res.mod.String())
	}
	return exitOK
}
