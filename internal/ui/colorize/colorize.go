// Package colorize applies terminal syntax highlighting to
// disassembly listings using chroma.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colorization is on. LZD_NO_COLOR disables it
// regardless of terminal state.
func Enabled() bool {
	return os.Getenv("LZD_NO_COLOR") == ""
}

// getAssemblyLexer returns an assembly lexer with fallbacks. The nasm
// lexer handles both the x86 and arm64 listings this tool emits well
// enough, including comments.
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "armasm"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks.
func getDisasmStyle() *chroma.Style {
	_ = DisasmDark // force registration
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns a terminal formatter, high-color first.
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly text.
func Assembly(code string) string {
	if !Enabled() {
		return code
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatters.Get("terminal16m").Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code
	}
	return buf.String()
}

// InstructionLine colorizes one listing line, rendering the leading
// address in gray and the instruction body through chroma.
func InstructionLine(line string) string {
	if !Enabled() {
		return line
	}

	parts := strings.SplitN(line, " ", 2)
	if len(parts) < 2 || !isHex(parts[0]) {
		return assemblyLine(line)
	}
	addr := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", parts[0])
	return addr + " " + assemblyLine(parts[1])
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

func assemblyLine(line string) string {
	lexer := getAssemblyLexer()
	if lexer == nil {
		return line
	}
	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return line
	}
	return buf.String()
}

// StripANSI removes ANSI escape codes.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
