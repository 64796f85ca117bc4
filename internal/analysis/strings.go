package analysis

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"lzd/internal/elfx"
)

// MinStringLength is the default minimum length for extracted strings.
const MinStringLength = 4

// StringResult is a recovered string with its location.
type StringResult struct {
	Value   string // escaped content
	VA      uint64
	Len     int // original byte length
	Section string
}

func isPrintable(c byte) bool {
	return c >= 0x20 && c <= 0x7e
}

// isValidString requires at least 50% alphanumeric characters and
// rejects all-space runs, to keep table noise out of the listing.
func isValidString(s []byte) bool {
	if len(s) == 0 {
		return false
	}
	alnum, space := 0, 0
	for _, c := range s {
		switch {
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'):
			alnum++
		case c == ' ':
			space++
		}
	}
	return alnum*2 >= len(s) && space < len(s)
}

// EscapeUnprintable returns a string where printable Unicode runes are
// preserved. Control and unprintable runes are escaped as \uXXXX,
// invalid UTF-8 as \xXX.
func EscapeUnprintable(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteString(fmt.Sprintf("\\x%02X", b[0]))
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteString(fmt.Sprintf("\\u%04X", r))
		}
		b = b[size:]
	}
	return sb.String()
}

// scanStrings walks one section's bytes for printable runs.
func scanStrings(data []byte, baseVA uint64, minLen int, section string) []StringResult {
	var out []StringResult
	start := 0
	inString := false
	for i, c := range data {
		if isPrintable(c) {
			if !inString {
				start = i
				inString = true
			}
			continue
		}
		if inString {
			if run := data[start:i]; len(run) >= minLen && isValidString(run) {
				out = append(out, StringResult{
					Value:   EscapeUnprintable(run),
					VA:      baseVA + uint64(start),
					Len:     len(run),
					Section: section,
				})
			}
			inString = false
		}
	}
	if inString {
		if run := data[start:]; len(run) >= minLen && isValidString(run) {
			out = append(out, StringResult{
				Value:   EscapeUnprintable(run),
				VA:      baseVA + uint64(start),
				Len:     len(run),
				Section: section,
			})
		}
	}
	return out
}

// ExtractStrings pulls printable strings out of the string-bearing
// sections. minLen <= 0 selects MinStringLength.
func ExtractStrings(im *elfx.Image, minLen int) []StringResult {
	if minLen <= 0 {
		minLen = MinStringLength
	}
	var out []StringResult
	for _, s := range []elfx.Section{im.Rodata, im.Data, im.Dynstr, im.Strtab} {
		data, ok := im.SectionBytes(s)
		if !ok {
			continue
		}
		out = append(out, scanStrings(data, s.VA, minLen, s.Name)...)
	}
	return out
}
