package player

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/zurustar/midistream/pkg/logger"
	"github.com/zurustar/midistream/pkg/storage"
)

// trackBufferSize bounds the per-track read-ahead window. Buffering is an
// optimization only; behavior is identical to unbuffered reads.
const trackBufferSize = 64

// maxVLQBytes is the standard MIDI limit for a variable-length quantity.
const maxVLQBytes = 4

// reader owns the single shared read position of the underlying source.
// Every access states its absolute offset, and the reader seeks only when
// its recorded position disagrees. This turns the implicit file-handle
// position into an explicit, checkable invariant.
type reader struct {
	src storage.Source
	pos int64
	log *slog.Logger
}

func newReader(src storage.Source, log *slog.Logger) *reader {
	return &reader{src: src, pos: 0, log: log}
}

// readAt fills p starting at absolute offset off. Short reads surface as
// ErrReadFailure; a failed reposition surfaces as ErrSeekFailure and means
// the recorded position can no longer be trusted.
func (r *reader) readAt(off int64, p []byte) error {
	if r.pos != off {
		r.log.Log(context.Background(), logger.LevelVerbose, "repositioning source", "from", r.pos, "to", off)
		if _, err := r.src.Seek(off, io.SeekStart); err != nil {
			return fmt.Errorf("%w: offset %d: %v", ErrSeekFailure, off, err)
		}
		r.pos = off
	}
	n, err := io.ReadFull(r.src, p)
	r.pos += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %d of %d bytes at offset %d: %v", ErrReadFailure, n, len(p), off, err)
	}
	return nil
}

// trackCursor provides forward-only byte access within one track's range,
// with a bounded read-ahead window refilled on demand.
type trackCursor struct {
	index int
	start int64
	end   int64

	// offset is the next unread byte position. Invariant:
	// start <= offset <= end.
	offset int64

	buf      [trackBufferSize]byte
	bufStart int64
	bufLen   int

	// runningStatus is the last channel-voice status byte, 0 when none is
	// in effect.
	runningStatus byte

	nextEventTick uint64

	// finished is terminal: set by End of Track, by any per-track error,
	// or by running off the end of the range.
	finished bool
	err      error // first fatal error, nil for a clean End of Track
}

func newTrackCursor(index int, rng trackRange) *trackCursor {
	c := &trackCursor{index: index, start: rng.start, end: rng.end}
	c.reset()
	return c
}

// reset rewinds the cursor to the start of the track and clears all decode
// state. The buffer is invalidated, not re-read.
func (c *trackCursor) reset() {
	c.offset = c.start
	c.bufLen = 0
	c.bufStart = 0
	c.runningStatus = 0
	c.nextEventTick = 0
	c.finished = false
	c.err = nil
}

// fail retires the cursor with err as the recorded cause. Repeat calls keep
// the first cause.
func (c *trackCursor) fail(err error) {
	if !c.finished {
		c.finished = true
		c.err = err
	}
}

// finishClean retires the cursor without an error (End of Track).
func (c *trackCursor) finishClean() {
	if !c.finished {
		c.finished = true
	}
}

// remaining returns how many bytes of track data are left to read.
func (c *trackCursor) remaining() int64 {
	return c.end - c.offset
}

// readByte returns the next byte of track data. At the end of the range it
// returns errTrackEnd without retiring the cursor; the caller decides
// whether running out of data here is clean or fatal.
func (c *trackCursor) readByte(r *reader) (byte, error) {
	if c.finished {
		return 0, errTrackEnd
	}
	if c.offset >= c.end {
		return 0, errTrackEnd
	}
	if c.offset < c.bufStart || c.offset >= c.bufStart+int64(c.bufLen) {
		if err := c.refill(r); err != nil {
			return 0, err
		}
	}
	b := c.buf[c.offset-c.bufStart]
	c.offset++
	return b, nil
}

// refill reads the next window starting at offset. The reader repositions
// the shared source if another cursor moved it since our last read.
func (c *trackCursor) refill(r *reader) error {
	n := int64(trackBufferSize)
	if c.offset+n > c.end {
		n = c.end - c.offset
	}
	if n <= 0 {
		return errTrackEnd
	}
	if err := r.readAt(c.offset, c.buf[:n]); err != nil {
		return err
	}
	c.bufStart = c.offset
	c.bufLen = int(n)
	return nil
}

// readVLQ decodes a MIDI variable-length quantity: big-endian, 7 bits per
// byte, continuation flag in the top bit. More than maxVLQBytes input bytes
// is a malformed file, not a bigger number.
func (c *trackCursor) readVLQ(r *reader) (uint32, error) {
	var value uint32
	for i := 0; ; i++ {
		if i >= maxVLQBytes {
			return 0, fmt.Errorf("%w: at offset %d", ErrMalformedVLQ, c.offset)
		}
		b, err := c.readByte(r)
		if err != nil {
			return 0, err
		}
		value = value<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return value, nil
		}
	}
}

// skip advances past n bytes of track data without surfacing them.
func (c *trackCursor) skip(r *reader, n uint32) error {
	return c.advanceTo(c.offset + int64(n))
}

// advanceTo forces the read position to an absolute offset at or after the
// current one. Used to realign after a declared-length payload regardless
// of how many bytes its handler actually consumed.
func (c *trackCursor) advanceTo(off int64) error {
	if off < c.offset {
		return fmt.Errorf("%w: cannot rewind cursor from %d to %d", ErrReadFailure, c.offset, off)
	}
	if off > c.end {
		c.offset = c.end
		return errTrackEnd
	}
	c.offset = off
	return nil
}
