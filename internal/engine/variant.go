package engine

import "fmt"

// Variant identifies an engine implementation.
type Variant string

const (
	// VariantClaude is the Claude Code CLI with stream-json output.
	VariantClaude Variant = "claude"
	// VariantOpenCode is the OpenCode CLI with single-document JSON output.
	VariantOpenCode Variant = "opencode"
)

// Valid returns true if the variant is a known value.
func (v Variant) Valid() bool {
	switch v {
	case VariantClaude, VariantOpenCode:
		return true
	default:
		return false
	}
}

// InputMode selects how the prompt is delivered to the engine process.
type InputMode string

const (
	// InputStdin streams the prompt to the process's standard input.
	InputStdin InputMode = "stdin"
	// InputPromptFile writes the prompt to a temporary file whose path is
	// passed on the command line.
	InputPromptFile InputMode = "prompt_file"
)

// ParserKind selects how the engine's stdout is interpreted.
type ParserKind string

const (
	// ParserStreamJSON parses line-delimited streaming JSON events.
	ParserStreamJSON ParserKind = "stream_json"
	// ParserSingleJSON parses one JSON document emitted at process exit.
	ParserSingleJSON ParserKind = "single_json"
)

// Spec is the capability record for one engine variant: everything the
// Runner needs to spawn the process and interpret its output. This is the
// pluggable seam for adding new agent variants.
type Spec struct {
	// Variant is the identity this spec describes.
	Variant Variant
	// Binary is the executable name looked up on PATH.
	Binary string
	// Args builds the argument vector. promptFile is the temporary prompt
	// path for InputPromptFile variants and empty for InputStdin ones.
	Args func(promptFile string) []string
	// Env lists extra KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Input selects the prompt delivery mode.
	Input InputMode
	// Parser selects the stdout parser family.
	Parser ParserKind
}

// SpecFor returns the spec for a variant.
func SpecFor(v Variant) (*Spec, error) {
	switch v {
	case VariantClaude:
		return &Spec{
			Variant: VariantClaude,
			Binary:  "claude",
			Args: func(string) []string {
				return []string{
					"--print",
					"--verbose",
					"--output-format", "stream-json",
					"--allowedTools", "Read,Write,Edit,Bash,Glob,Grep",
				}
			},
			Input:  InputStdin,
			Parser: ParserStreamJSON,
		}, nil
	case VariantOpenCode:
		return &Spec{
			Variant: VariantOpenCode,
			Binary:  "opencode",
			Args: func(promptFile string) []string {
				return []string{"run", "--json", "--prompt-file", promptFile}
			},
			Env:    []string{"OPENCODE_NONINTERACTIVE=1"},
			Input:  InputPromptFile,
			Parser: ParserSingleJSON,
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine variant %q", v)
	}
}

// codeMutatingTools are tool names that write to the working tree.
var codeMutatingTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
	"write_file":   true,
	"edit_file":    true,
	"apply_patch":  true,
}

// shellTools are tool names that run arbitrary commands. Shell use may have
// written files through indirect means, so a run that used one is never
// classified as stuck here; the downstream diff check decides.
var shellTools = map[string]bool{
	"Bash":        true,
	"bash":        true,
	"shell":       true,
	"run_command": true,
}
