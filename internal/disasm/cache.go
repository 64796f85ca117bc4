package disasm

import (
	"log/slog"

	"lzd/internal/pool"
)

// handleCache is the per-worker decoder state stored in the worker's
// local slot. One cache per worker, never shared, so no locking.
type handleCache struct {
	tag Tag
	h   Handle
}

// cachedHandle returns the worker's decoder handle for tag, opening one
// if none is cached or the cached tag differs. A replaced handle is
// closed exactly once before the new one is opened. The handle is
// released automatically when the worker exits.
func cachedHandle(tl *pool.Local, tag Tag, open Opener) (Handle, error) {
	if c, ok := tl.Value().(*handleCache); ok {
		if c.tag == tag {
			return c.h, nil
		}
		if err := c.h.Close(); err != nil {
			slog.Debug("closing stale decoder handle", "tag", c.tag, "error", err)
		}
		tl.Store(nil, nil)
	}

	h, err := open(tag)
	if err != nil {
		return nil, err
	}
	c := &handleCache{tag: tag, h: h}
	tl.Store(c, func() {
		if err := c.h.Close(); err != nil {
			slog.Debug("closing decoder handle at worker exit", "tag", c.tag, "error", err)
		}
	})
	return h, nil
}
