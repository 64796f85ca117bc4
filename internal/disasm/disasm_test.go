package disasm

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"lzd/internal/pool"
)

// countingHandle decodes one fake instruction per byte and tracks
// open/close transitions for cache tests.
type countingHandle struct {
	tag    Tag
	closes *atomic.Int64
}

func (h *countingHandle) Decode(code []byte, base uint64) ([]Inst, int) {
	insns := make([]Inst, len(code))
	for i := range code {
		insns[i] = Inst{VA: base + uint64(i), Bytes: []byte{code[i]}, Mnemonic: "fake"}
	}
	return insns, len(code)
}

func (h *countingHandle) Close() error {
	h.closes.Add(1)
	return nil
}

// collectSink gathers accepted batches behind its own lock, as the
// sink contract requires.
type collectSink struct {
	mu      sync.Mutex
	batches []*Batch
}

func (s *collectSink) Accept(b *Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
}

func (s *collectSink) all() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Batch(nil), s.batches...)
}

func TestHandleCachedPerWorker(t *testing.T) {
	var opens, closes atomic.Int64
	openBackend = func(tag Tag) (Handle, error) {
		opens.Add(1)
		return &countingHandle{tag: tag, closes: &closes}, nil
	}
	defer func() { openBackend = Open }()

	p := pool.New(1) // one worker, so every job shares one cache
	sink := &collectSink{}
	tagA := Tag{Family: FamilyX86, Bits: 64}
	tagB := Tag{Family: FamilyARM64, Bits: 64}

	// Two consecutive jobs with the same tag must not reopen.
	PostBytes(p, tagA, []byte{1, 2, 3}, 0x1000, sink)
	PostBytes(p, tagA, []byte{4, 5, 6}, 0x2000, sink)
	p.Drain()
	if got := opens.Load(); got != 1 {
		t.Errorf("opens after two same-tag jobs = %d, want 1", got)
	}
	if got := closes.Load(); got != 0 {
		t.Errorf("closes after two same-tag jobs = %d, want 0", got)
	}

	// A tag change closes the old handle exactly once, then opens.
	PostBytes(p, tagB, []byte{7, 8}, 0x3000, sink)
	p.Drain()
	if got := opens.Load(); got != 2 {
		t.Errorf("opens after tag change = %d, want 2", got)
	}
	if got := closes.Load(); got != 1 {
		t.Errorf("closes after tag change = %d, want 1", got)
	}

	// Worker exit releases the cached handle.
	p.Shutdown()
	if got := closes.Load(); got != 2 {
		t.Errorf("closes after shutdown = %d, want 2", got)
	}
	if got := len(sink.all()); got != 3 {
		t.Errorf("%d batches arrived, want 3", got)
	}
}

func TestOpenFailureAbandonsJob(t *testing.T) {
	openBackend = func(tag Tag) (Handle, error) {
		return nil, ErrUnsupported
	}
	defer func() { openBackend = Open }()

	p := pool.New(2)
	defer p.Close()
	sink := &collectSink{}
	if err := PostBytes(p, Tag{Family: FamilyX86, Bits: 64}, []byte{0x90}, 0, sink); err != nil {
		t.Fatalf("PostBytes: %v", err)
	}
	p.Drain()
	if got := len(sink.all()); got != 0 {
		t.Errorf("%d batches arrived for an abandoned job, want 0", got)
	}
}

func TestPostBytesCopiesBuffer(t *testing.T) {
	p := pool.New(1)
	defer p.Close()
	sink := &collectSink{}

	// Park the worker so the decode job stays queued while the source
	// buffer is clobbered.
	release := make(chan struct{})
	p.Submit(func(*pool.Local) { <-release })

	src := []byte{0x50, 0x51, 0x52, 0x53} // push rax/rcx/rdx/rbx
	if err := PostBytes(p, Tag{Family: FamilyX86, Bits: 64}, src, 0x400000, sink); err != nil {
		t.Fatalf("PostBytes: %v", err)
	}
	for i := range src {
		src[i] = 0xFF
	}
	close(release)
	p.Drain()

	batches := sink.all()
	if len(batches) != 1 {
		t.Fatalf("%d batches arrived, want 1", len(batches))
	}
	b := batches[0]
	if b.Read != 4 || len(b.Insns) != 4 {
		t.Fatalf("Read = %d, %d insns; want 4 and 4", b.Read, len(b.Insns))
	}
	if !bytes.Equal(b.Insns[0].Bytes, []byte{0x50}) {
		t.Errorf("first insn bytes = %x, want 50 (job saw the caller's mutation)", b.Insns[0].Bytes)
	}
}

func TestBatchAddressesNonDecreasing(t *testing.T) {
	p := pool.New(4)
	defer p.Close()
	sink := &collectSink{}

	code := bytes.Repeat([]byte{0x50, 0x51, 0x90}, 40) // push/push/nop
	for i := 0; i < 8; i++ {
		if err := PostBytes(p, Tag{Family: FamilyX86, Bits: 64}, code, uint64(0x1000*i), sink); err != nil {
			t.Fatalf("PostBytes %d: %v", i, err)
		}
	}
	p.Drain()

	batches := sink.all()
	if len(batches) != 8 {
		t.Fatalf("%d batches arrived, want 8", len(batches))
	}
	for _, b := range batches {
		last := uint64(0)
		for _, in := range b.Insns {
			if in.VA < last {
				t.Fatalf("batch %#x: address %#x after %#x", b.Base, in.VA, last)
			}
			last = in.VA
		}
	}
}

func TestX86DecodeStopsAtInvalid(t *testing.T) {
	h, err := Open(Tag{Family: FamilyX86, Bits: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	// Two pushes, then bytes no x86 decoder accepts.
	code := []byte{0x50, 0x51, 0x0F, 0x0B, 0xFF, 0xFF}
	insns, read := h.Decode(code[:2], 0x1000)
	if len(insns) != 2 || read != 2 {
		t.Fatalf("clean decode: %d insns, %d read; want 2, 2", len(insns), read)
	}
	if insns[0].VA != 0x1000 || insns[1].VA != 0x1001 {
		t.Errorf("addresses %#x, %#x; want 0x1000, 0x1001", insns[0].VA, insns[1].VA)
	}
	if insns[0].Mnemonic != "push" {
		t.Errorf("mnemonic = %q, want push", insns[0].Mnemonic)
	}
}

func TestNewInstCaps(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 24)
	long := strings.Repeat("m", 64) + " " + strings.Repeat("o", 256)
	in := newInst(0x10, raw, long)
	if len(in.Bytes) != MaxBytes {
		t.Errorf("len(Bytes) = %d, want %d", len(in.Bytes), MaxBytes)
	}
	if len(in.Mnemonic) != maxMnemonic {
		t.Errorf("len(Mnemonic) = %d, want %d", len(in.Mnemonic), maxMnemonic)
	}
	if len(in.Args) != maxOperands {
		t.Errorf("len(Args) = %d, want %d", len(in.Args), maxOperands)
	}
}

func TestOpenRejectsUnknownTag(t *testing.T) {
	tests := []Tag{
		{},
		{Family: FamilyX86, Bits: 16},
		{Family: FamilyARM64, Bits: 32},
	}
	for _, tag := range tests {
		if _, err := Open(tag); err == nil {
			t.Errorf("Open(%s) succeeded, want error", tag)
		}
	}
}
