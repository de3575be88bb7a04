// Package config holds the compiler's command-line-derived settings:
// which backend to generate, the optimization level, where to write
// output, and the handful of backend-specific knobs (LLVM target
// strings, register-allocator compaction, tree-dump mode).
package config

import "occ/internal/optimize"

// Codegen selects which backend the driver emits code with.
type Codegen int

const (
	CodegenIR     Codegen = iota // textual three-address IR dump
	CodegenAVR                   // 8-bit MCU assembly
	CodegenLLVM                  // typed SSA-like textual IR (llir/llvm)
)

func (c Codegen) String() string {
	switch c {
	case CodegenIR:
		return "ir"
	case CodegenAVR:
		return "avrasm"
	case CodegenLLVM:
		return "llvm"
	}
	return "?"
}

// Config is the full set of driver settings for one compilation run.
type Config struct {
	Inputs []string

	Codegen           Codegen
	OptimizationLevel optimize.Level
	OutputPath        string
	ToStdout          bool

	// CompactRegisters enables the register-domain-coalescing pass. It
	// defaults to true; --nocomp sets it to false so every temporary
	// keeps its own distinct name, which is easier to read in -g ir
	// dumps while debugging the optimizer itself.
	CompactRegisters bool

	LLVMTargetTriple string
	LLVMDataLayout   string

	// DumpTree, when set, prints the parsed syntax tree instead of
	// running the rest of the pipeline.
	DumpTree bool
}

// Default returns the configuration used when no flags are given:
// textual IR output to stdout at optimization level 1.
func Default() Config {
	return Config{
		Codegen:           CodegenIR,
		OptimizationLevel: optimize.LevelBasic,
		ToStdout:          true,
		CompactRegisters:  true,
		LLVMTargetTriple:  "avr-unknown-unknown",
		LLVMDataLayout:    "e-P1-p:16:8-i8:8-i16:8-i32:8-i64:8-f32:8-f64:8-n8-a:8",
	}
}
