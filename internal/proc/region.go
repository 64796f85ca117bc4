package proc

import (
	"errors"
	"fmt"
	"os"
)

const pageSize = 0x1000

// Region is a page-aligned snapshot of a process address range
// [start, end). Pages that could not be read are holes; Present marks
// readable pages.
type Region struct {
	PID     int
	Base    uint64 // page-aligned start
	Size    uint64
	Pages   int
	Data    []byte
	Present []bool // one flag per page
}

// NewRegion prepares a snapshot buffer for [start, end).
func NewRegion(pid int, start, end uint64) (*Region, error) {
	if start >= end {
		return nil, errors.New("proc: empty region")
	}
	base := start &^ (pageSize - 1)
	top := (end + pageSize - 1) &^ (pageSize - 1)
	size := top - base
	pages := int(size / pageSize)
	return &Region{
		PID:     pid,
		Base:    base,
		Size:    size,
		Pages:   pages,
		Data:    make([]byte, size),
		Present: make([]bool, pages),
	}, nil
}

// Read fills the region page by page through /proc/<pid>/mem, marking
// each page's present flag. Partial reads still count as present.
// Returns the number of readable pages.
func (r *Region) Read() (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", r.PID))
	if err != nil {
		return 0, fmt.Errorf("open mem: %w", err)
	}
	defer f.Close()

	present := 0
	for i := 0; i < r.Pages; i++ {
		off := uint64(i) * pageSize
		dst := r.Data[off : off+pageSize]
		n, err := f.ReadAt(dst, int64(r.Base+off))
		if n == 0 && err != nil {
			r.Present[i] = false
			continue
		}
		r.Present[i] = true
		present++
	}
	return present, nil
}

// Slice returns the snapshot bytes for [va, va+size) when every page
// covering the span is present.
func (r *Region) Slice(va, size uint64) ([]byte, bool) {
	if va < r.Base || va+size > r.Base+r.Size {
		return nil, false
	}
	first := int((va - r.Base) / pageSize)
	last := int((va + size - 1 - r.Base) / pageSize)
	for i := first; i <= last; i++ {
		if !r.Present[i] {
			return nil, false
		}
	}
	off := va - r.Base
	return r.Data[off : off+size], true
}
