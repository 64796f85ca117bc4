package disasm

import (
	"errors"
	"log/slog"

	"lzd/internal/pool"
)

// openBackend is swapped out by tests to observe handle lifecycles.
var openBackend Opener = Open

// decodeJob is the payload of one posted job. data is always a private
// copy; the submitter's buffer may be freed or mutated immediately
// after PostBytes returns.
type decodeJob struct {
	pid   int
	tag   Tag
	data  []byte
	vaddr uint64
	sink  Sink
}

// PostBytes copies data and submits one decode job for it. The job
// decodes on a pool worker and hands the resulting batch to sink
// exactly once.
func PostBytes(p *pool.Pool, tag Tag, data []byte, vaddr uint64, sink Sink) error {
	return PostBytesPID(p, 0, tag, data, vaddr, sink)
}

// PostBytesPID is PostBytes with the originating process recorded in
// the resulting batch. Use pid 0 for bytes that came from a file.
func PostBytesPID(p *pool.Pool, pid int, tag Tag, data []byte, vaddr uint64, sink Sink) error {
	if p == nil || sink == nil || len(data) == 0 {
		return errors.New("disasm: invalid post")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	job := &decodeJob{pid: pid, tag: tag, data: buf, vaddr: vaddr, sink: sink}

	if err := p.Submit(job.run); err != nil {
		slog.Error("posting decode job", "tag", tag, "vaddr", vaddr, "error", err)
		return err
	}
	return nil
}

// run is the job body. It executes on a worker with the pool lock
// released. If the decoder handle cannot be opened the job is dropped:
// no batch, no retry.
func (j *decodeJob) run(tl *pool.Local) {
	h, err := cachedHandle(tl, j.tag, openBackend)
	if err != nil {
		slog.Debug("abandoning decode job", "tag", j.tag, "vaddr", j.vaddr, "error", err)
		j.data = nil
		return
	}

	insns, read := h.Decode(j.data, j.vaddr)
	batch := &Batch{
		PID:    j.pid,
		Base:   j.vaddr,
		Length: len(j.data),
		Read:   read,
		Insns:  insns,
	}

	// The sink owns the batch from here on.
	j.sink.Accept(batch)
	j.data = nil
}
