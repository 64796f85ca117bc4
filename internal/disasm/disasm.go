// Package disasm defines the instruction representation shared across
// the pipeline and runs decode jobs on the worker pool. Decoding itself
// is delegated to architecture backends behind the Handle interface.
package disasm

import "fmt"

// Family identifies an instruction-set family.
type Family int

const (
	FamilyNone Family = iota
	FamilyX86
	FamilyARM64
)

func (f Family) String() string {
	switch f {
	case FamilyX86:
		return "x86"
	case FamilyARM64:
		return "arm64"
	default:
		return "none"
	}
}

// Tag identifies which decoder variant a handle targets. It is a value
// type and doubles as the per-worker handle cache key.
type Tag struct {
	Family Family
	Bits   int // 32 or 64
}

func (t Tag) String() string { return fmt.Sprintf("%s/%d", t.Family, t.Bits) }

// Valid reports whether the tag names a decodable target.
func (t Tag) Valid() bool {
	switch t.Family {
	case FamilyX86:
		return t.Bits == 32 || t.Bits == 64
	case FamilyARM64:
		return t.Bits == 64
	}
	return false
}

// Fixed capacities for raw bytes and instruction text.
const (
	MaxBytes    = 16
	maxMnemonic = 32
	maxOperands = 128
)

// Inst is one decoded instruction.
type Inst struct {
	VA       uint64 // virtual address
	Bytes    []byte // raw encoding, at most MaxBytes
	Mnemonic string
	Args     string // operand text
	Text     string // precomputed display line, may be empty
}

// Batch is the result of one decode job. Ownership transfers to the
// sink on Accept; the producing worker does not touch it afterward.
type Batch struct {
	PID    int    // origin process, 0 for byte-buffer jobs
	Base   uint64 // requested base address
	Length int    // requested byte count
	Read   int    // bytes actually decoded
	Insns  []Inst // address order, non-decreasing
}

// Sink receives completed batches. Accept takes ownership of the batch
// and its instructions, must be safe to call concurrently from multiple
// workers, and must not block indefinitely. No ordering is guaranteed
// between calls.
type Sink interface {
	Accept(b *Batch)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(b *Batch)

func (f SinkFunc) Accept(b *Batch) { f(b) }

// truncate clips s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
