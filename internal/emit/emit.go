// Package emit partitions a code buffer into decodable ranges and
// turns address windows into decode jobs on the worker pool.
package emit

import (
	"errors"
	"fmt"
	"log/slog"

	"lzd/internal/disasm"
	"lzd/internal/pool"
)

// ErrNoIntersection is returned by EmitRange when the requested window
// touches no known code range.
var ErrNoIntersection = errors.New("emit: window intersects no code range")

// paddingRun is the minimum run of padding bytes that separates two
// code ranges. Shorter padding-like runs inside code are left alone so
// code that incidentally contains those byte values is not split.
const paddingRun = 16

// Range is a contiguous span of a code buffer judged not to be
// alignment padding. Ranges are immutable, ordered by increasing
// address, and never overlap; gaps between them are padding.
type Range struct {
	Vaddr  uint64 // virtual address of the first byte
	Offset int    // offset into the source buffer
	Length int
}

// End returns the first address past the range.
func (r Range) End() uint64 { return r.Vaddr + uint64(r.Length) }

// isPadding reports whether b is a common padding byte: zero, NOP, or
// the 0xCC trap.
func isPadding(b byte) bool {
	return b == 0x00 || b == 0x90 || b == 0xCC
}

// hasPaddingRun reports whether data contains a run of at least minRun
// consecutive padding bytes.
func hasPaddingRun(data []byte, minRun int) bool {
	count := 0
	for _, b := range data {
		if isPadding(b) {
			count++
			if count >= minRun {
				return true
			}
		} else {
			count = 0
		}
	}
	return false
}

// Scan partitions data into ordered non-padding ranges. Leading
// padding is skipped; a range extends until a padding run of at least
// paddingRun bytes or the end of the buffer.
func Scan(data []byte, base uint64) []Range {
	var ranges []Range
	i := 0
	for i < len(data) {
		if isPadding(data[i]) {
			i++
			continue
		}

		// Found the start of code, walk to the end.
		start := i
		for i < len(data) {
			if i+paddingRun <= len(data) && hasPaddingRun(data[i:i+paddingRun], paddingRun) {
				break
			}
			i++
		}

		if length := i - start; length > 0 {
			ranges = append(ranges, Range{
				Vaddr:  base + uint64(start),
				Offset: start,
				Length: length,
			})
		}
	}
	return ranges
}

// Context ties a code buffer to its scanned ranges and the sink that
// receives decoded batches.
type Context struct {
	Tag    disasm.Tag
	Text   []byte // code bytes; jobs copy out of this buffer
	Vaddr  uint64 // virtual address of Text[0]
	PID    int    // originating process, 0 for file-backed buffers
	Ranges []Range
	Sink   disasm.Sink
}

// New builds a context for a code buffer. Call ScanText before
// dispatching.
func New(tag disasm.Tag, text []byte, vaddr uint64, sink disasm.Sink) *Context {
	return &Context{Tag: tag, Text: text, Vaddr: vaddr, Sink: sink}
}

// ScanText identifies the code ranges of the buffer.
func (c *Context) ScanText() error {
	if c == nil || len(c.Text) == 0 {
		return errors.New("emit: no code buffer")
	}
	c.Ranges = Scan(c.Text, c.Vaddr)
	slog.Debug("scanned code buffer", "bytes", len(c.Text), "ranges", len(c.Ranges))
	return nil
}

// EmitRange posts one decode job per code range intersecting the
// half-open window [start, end), clipped to the window. If a
// submission fails partway, further submissions are aborted and the
// error returned; jobs already posted still run to completion.
func (c *Context) EmitRange(p *pool.Pool, start, end uint64) error {
	if c == nil || p == nil {
		return errors.New("emit: nil context or pool")
	}
	posted := 0
	for _, r := range c.Ranges {
		if r.Vaddr >= end || r.End() <= start {
			continue
		}

		jobVaddr := max(r.Vaddr, start)
		jobEnd := min(r.End(), end)
		off := int(jobVaddr - c.Vaddr)
		length := int(jobEnd - jobVaddr)

		if err := disasm.PostBytesPID(p, c.PID, c.Tag, c.Text[off:off+length], jobVaddr, c.Sink); err != nil {
			return fmt.Errorf("emit range %#x-%#x: %w", jobVaddr, jobEnd, err)
		}
		posted++
	}
	if posted == 0 {
		return ErrNoIntersection
	}
	return nil
}

// EmitAll posts one decode job per code range. Success with no ranges
// is a no-op.
func (c *Context) EmitAll(p *pool.Pool) error {
	if c == nil || p == nil {
		return errors.New("emit: nil context or pool")
	}
	for _, r := range c.Ranges {
		if err := disasm.PostBytesPID(p, c.PID, c.Tag, c.Text[r.Offset:r.Offset+r.Length], r.Vaddr, c.Sink); err != nil {
			return fmt.Errorf("emit range %#x: %w", r.Vaddr, err)
		}
	}
	return nil
}
