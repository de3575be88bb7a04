// Command occ is the compiler driver: it tokenizes, parses, lowers,
// type-corrects, optimizes and finally emits one of three backends for
// each input file in turn, continuing to the next input after a
// recoverable failure in one.
package main

import (
	"fmt"
	"os"
	"strconv"

	"occ/internal/ast"
	"occ/internal/codegen/avr"
	"occ/internal/codegen/irdump"
	"occ/internal/codegen/ssa"
	"occ/internal/config"
	"occ/internal/diag"
	"occ/internal/ir"
	"occ/internal/irbuild"
	"occ/internal/optimize"
	"occ/internal/parse"
	"occ/internal/token"
	"occ/internal/typecorrect"
)

const usage = `usage: occ [options] <input.c> [input2.c ...]

options:
  -g <mode>         backend: ir (default), avrasm, llvm
  -O <level>        optimization level: 0, 1 (default), 2
  -o <file>         write output to file instead of stdout
  --stdout          force output to stdout even with -o set
  --nocomp          disable register-domain coalescing
  --llvm-target <t> LLVM target triple (llvm backend only)
  --llvm-layout <l> LLVM data layout string (llvm backend only)
  -T, --tree        print the parsed syntax tree and stop
  -h, --help        show this message
  --version         show version information
`

const version = "occ 0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()
	var inputs []string
	forceStdout := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h", "--help":
			fmt.Print(usage)
			return 0
		case "--version":
			fmt.Println(version)
			return 0
		case "-g":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "compiler: fatal: -g requires an argument")
				return 1
			}
			switch args[i] {
			case "ir":
				cfg.Codegen = config.CodegenIR
			case "avrasm":
				cfg.Codegen = config.CodegenAVR
			case "llvm":
				cfg.Codegen = config.CodegenLLVM
			default:
				fmt.Fprintf(os.Stderr, "compiler: fatal: unknown backend %q\n", args[i])
				return 1
			}
		case "-O":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "compiler: fatal: -O requires an argument")
				return 1
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 || n > 2 {
				fmt.Fprintf(os.Stderr, "compiler: fatal: invalid optimization level %q\n", args[i])
				return 1
			}
			cfg.OptimizationLevel = optimize.Level(n)
		case "-o":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "compiler: fatal: -o requires an argument")
				return 1
			}
			cfg.OutputPath = args[i]
			cfg.ToStdout = false
		case "--stdout":
			forceStdout = true
		case "--nocomp":
			cfg.CompactRegisters = false
		case "--llvm-target":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "compiler: fatal: --llvm-target requires an argument")
				return 1
			}
			cfg.LLVMTargetTriple = args[i]
		case "--llvm-layout":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "compiler: fatal: --llvm-layout requires an argument")
				return 1
			}
			cfg.LLVMDataLayout = args[i]
		case "-T", "--tree":
			cfg.DumpTree = true
		default:
			inputs = append(inputs, arg)
		}
	}
	if forceStdout {
		cfg.ToStdout = true
	}

	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "compiler: fatal: no input files")
		fmt.Fprint(os.Stderr, usage)
		return 1
	}
	cfg.Inputs = inputs

	exitCode := 0
	for _, path := range inputs {
		if err := compileOne(cfg, path); err != nil {
			if fe, ok := err.(*diag.FatalError); ok {
				diag.PrintOne(os.Stderr, fe.Diagnostic)
			} else {
				fmt.Fprintf(os.Stderr, "compiler: fatal: %s\n", err)
			}
			exitCode = 1
		}
	}
	return exitCode
}

func compileOne(cfg config.Config, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return diag.NewFatalNoLoc("cannot read %s: %s", path, err)
	}

	toks := token.Tokenize(path, string(src))
	rec := &diag.Recorder{}
	tree := parse.ParseLibrary(toks, rec)

	if cfg.DumpTree {
		rec.Print(os.Stderr)
		printTree(tree, 0)
		return nil
	}

	var fns []*ir.Function
	for _, fnNode := range tree.Children {
		fn, err := irbuild.Build(fnNode)
		if err != nil {
			if fe, ok := err.(*diag.FatalError); ok {
				rec.Error(fe.Diagnostic.Location, "%s", fe.Diagnostic.Message)
			} else {
				rec.Error(diag.Location{}, "%s", err.Error())
			}
			continue
		}
		fns = append(fns, fn)
	}

	rec.Print(os.Stderr)
	if rec.HasErrors() {
		return diag.NewFatalNoLoc("%s: compilation failed", path)
	}

	level := cfg.OptimizationLevel
	if !cfg.CompactRegisters && level >= optimize.LevelAggressive {
		level = optimize.LevelBasic
	}
	for _, fn := range fns {
		typecorrect.Run(fn)
		optimize.Run(fn, level)
	}

	out, err := render(cfg, fns)
	if err != nil {
		return err
	}
	return writeOutput(cfg, out)
}

func printTree(n *ast.Node, depth int) {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	switch n.Kind {
	case ast.Identifier, ast.RawType, ast.RawToken, ast.IntegerLiteral:
		fmt.Printf("%s%s(%s)\n", indent, n.Kind, n.Tok.Lexeme)
	case ast.Expression:
		fmt.Printf("%s%s %s %q\n", indent, n.Kind, n.ExprKind, n.Op)
	default:
		fmt.Printf("%s%s\n", indent, n.Kind)
	}
	for _, c := range n.Children {
		printTree(c, depth+1)
	}
}

func render(cfg config.Config, fns []*ir.Function) (string, error) {
	switch cfg.Codegen {
	case config.CodegenIR:
		out := ""
		for _, fn := range fns {
			out += irdump.Function(fn)
		}
		return out, nil

	case config.CodegenAVR:
		out := ""
		for _, fn := range fns {
			text, err := avr.Function(fn)
			if err != nil {
				return "", err
			}
			out += text
		}
		return out, nil

	case config.CodegenLLVM:
		m, err := ssa.Module(cfg, fns)
		if err != nil {
			return "", err
		}
		return m.String(), nil
	}
	return "", diag.NewFatalNoLoc("unknown codegen backend %v", cfg.Codegen)
}

func writeOutput(cfg config.Config, text string) error {
	if cfg.ToStdout || cfg.OutputPath == "" {
		fmt.Print(text)
		return nil
	}
	return os.WriteFile(cfg.OutputPath, []byte(text), 0o644)
}
