package disasm

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// ErrUnsupported is returned when no backend exists for a tag.
var ErrUnsupported = errors.New("disasm: unsupported architecture")

// Handle is an open decoder for one architecture variant. Handles are
// cached per worker and are not safe for concurrent use.
type Handle interface {
	// Decode decodes code in one linear pass starting at base. It
	// stops at the first undecodable byte and returns the
	// instructions produced so far plus the number of bytes consumed.
	Decode(code []byte, base uint64) ([]Inst, int)
	Close() error
}

// Opener opens a decoder handle for a tag.
type Opener func(tag Tag) (Handle, error)

// Open is the default opener backed by golang.org/x/arch.
func Open(tag Tag) (Handle, error) {
	switch tag.Family {
	case FamilyX86:
		if tag.Bits != 32 && tag.Bits != 64 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, tag)
		}
		return &x86Handle{mode: tag.Bits}, nil
	case FamilyARM64:
		if tag.Bits != 64 {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, tag)
		}
		return &arm64Handle{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, tag)
}

// x86Handle decodes variable-length x86 instructions.
type x86Handle struct {
	mode int // 32 or 64
}

func (h *x86Handle) Decode(code []byte, base uint64) ([]Inst, int) {
	var out []Inst
	i := 0
	for i < len(code) {
		inst, err := x86asm.Decode(code[i:], h.mode)
		if err != nil || inst.Len == 0 {
			break
		}
		text := x86asm.GNUSyntax(inst, base+uint64(i), nil)
		out = append(out, newInst(base+uint64(i), code[i:i+inst.Len], text))
		i += inst.Len
	}
	return out, i
}

func (h *x86Handle) Close() error { return nil }

// arm64Handle decodes fixed-width 4-byte instructions.
type arm64Handle struct{}

func (h *arm64Handle) Decode(code []byte, base uint64) ([]Inst, int) {
	var out []Inst
	i := 0
	for i+4 <= len(code) {
		inst, err := arm64asm.Decode(code[i : i+4])
		if err != nil {
			break
		}
		text := arm64asm.GNUSyntax(inst)
		out = append(out, newInst(base+uint64(i), code[i:i+4], text))
		i += 4
	}
	return out, i
}

func (h *arm64Handle) Close() error { return nil }

// newInst builds an Inst from a formatted line, splitting the mnemonic
// from the operand text and copying the raw bytes so the instruction
// does not alias the job buffer.
func newInst(va uint64, raw []byte, text string) Inst {
	if len(raw) > MaxBytes {
		raw = raw[:MaxBytes]
	}
	b := make([]byte, len(raw))
	copy(b, raw)

	mnemonic, args := text, ""
	if sp := strings.IndexByte(text, ' '); sp > 0 {
		mnemonic = text[:sp]
		args = strings.TrimSpace(text[sp+1:])
	}
	return Inst{
		VA:       va,
		Bytes:    b,
		Mnemonic: truncate(strings.ToLower(mnemonic), maxMnemonic),
		Args:     truncate(args, maxOperands),
		Text:     text,
	}
}
