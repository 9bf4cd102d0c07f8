package player

import (
	"fmt"
)

// Channel voice status high nibbles.
const (
	statusNoteOff         = 0x80
	statusNoteOn          = 0x90
	statusPolyPressure    = 0xA0
	statusControlChange   = 0xB0
	statusProgramChange   = 0xC0
	statusChannelPressure = 0xD0
	statusPitchBend       = 0xE0
)

// Meta event types the player interprets.
const (
	metaTrackName     = 0x03
	metaEndOfTrack    = 0x2F
	metaSetTempo      = 0x51
	metaTimeSignature = 0x58
)

// decodeEvent decodes exactly one event from c, whose delta time has
// already been consumed. On return the cursor points at the next delta
// time. The returned bool reports whether evt carries something for the
// consumer; meta events the player absorbs (and all SysEx) come back
// false. Errors retire the track via c.fail; ErrSeekFailure additionally
// ends the whole session, which the caller checks for.
func (p *Player) decodeEvent(c *trackCursor) (evt Event, deliverable bool, err error) {
	first, err := c.readByte(p.rd)
	if err != nil {
		c.fail(err)
		return Event{}, false, err
	}

	var status byte
	var data1 byte
	data1Consumed := false

	if first < 0x80 {
		// Running status: first is really the first data byte.
		if c.runningStatus == 0 {
			err = fmt.Errorf("%w: data byte 0x%02X on track %d", ErrRunningStatus, first, c.index)
			c.fail(err)
			return Event{}, false, err
		}
		status = c.runningStatus
		data1 = first
		data1Consumed = true
	} else {
		status = first
		switch {
		case status <= 0xEF:
			c.runningStatus = status
		case status <= 0xF7:
			// System Common invalidates running status.
			c.runningStatus = 0
		}
		// 0xFF meta events leave running status untouched.
	}

	if status < 0xF0 {
		return p.decodeChannelEvent(c, status, data1, data1Consumed)
	}

	switch status {
	case 0xF0, 0xF7:
		// SysEx start or escape: VLQ length, then an opaque payload the
		// player skips rather than surfaces.
		length, err := c.readVLQ(p.rd)
		if err != nil {
			c.fail(err)
			return Event{}, false, err
		}
		p.log.Debug("skipping SysEx payload", "track", c.index, "status", status, "length", length)
		if err := c.skip(p.rd, length); err != nil {
			c.fail(err)
			return Event{}, false, err
		}
		return Event{}, false, nil

	case 0xFF:
		return p.decodeMetaEvent(c)

	default:
		// 0xF1-0xF6 carry no length in SMF data; nothing sensible to skip.
		p.log.Warn("unhandled system message", "track", c.index, "status", fmt.Sprintf("0x%02X", status))
		return Event{}, false, nil
	}
}

// decodeChannelEvent reads the data bytes for a channel voice message and
// builds the consumer event.
func (p *Player) decodeChannelEvent(c *trackCursor, status, data1 byte, data1Consumed bool) (Event, bool, error) {
	kind := status & 0xF0
	channel := status & 0x0F

	var err error
	if !data1Consumed {
		if data1, err = c.readByte(p.rd); err != nil {
			c.fail(err)
			return Event{}, false, err
		}
	}

	var data2 byte
	if kind != statusProgramChange && kind != statusChannelPressure {
		if data2, err = c.readByte(p.rd); err != nil {
			c.fail(err)
			return Event{}, false, err
		}
	}

	evt := Event{Channel: channel, Data1: data1, Data2: data2}
	switch kind {
	case statusNoteOff:
		evt.Type = EventNoteOff
	case statusNoteOn:
		if data2 == 0 {
			// Velocity zero is a Note Off in disguise.
			evt.Type = EventNoteOff
		} else {
			evt.Type = EventNoteOn
		}
	case statusControlChange:
		evt.Type = EventControlChange
	case statusProgramChange:
		evt.Type = EventProgramChange
	case statusPitchBend:
		evt.Type = EventPitchBend
		evt.PitchBend = int16(uint16(data2)<<7|uint16(data1)) - 8192
	case statusPolyPressure, statusChannelPressure:
		// Decoded for cursor correctness but not part of the delivery
		// contract; consumers never see these.
		p.log.Debug("pressure event consumed", "track", c.index, "status", fmt.Sprintf("0x%02X", status))
		return Event{}, false, nil
	}
	return evt, true, nil
}

// decodeMetaEvent handles an 0xFF event: one type byte, a VLQ length, then
// exactly length payload bytes. Whatever the handler consumes, the cursor
// is realigned to the declared end before returning.
func (p *Player) decodeMetaEvent(c *trackCursor) (Event, bool, error) {
	metaType, err := c.readByte(p.rd)
	if err != nil {
		c.fail(err)
		return Event{}, false, err
	}
	length, err := c.readVLQ(p.rd)
	if err != nil {
		c.fail(err)
		return Event{}, false, err
	}
	payloadEnd := c.offset + int64(length)

	switch metaType {
	case metaEndOfTrack:
		if length > 0 {
			p.log.Warn("End of Track with payload", "track", c.index, "length", length)
		}
		c.finishClean()
		return Event{Type: EventEndOfTrack}, true, nil

	case metaSetTempo:
		if length != 3 {
			p.log.Warn("tempo meta event with bad length, skipped", "track", c.index, "length", length)
			return Event{}, false, p.realignMeta(c, payloadEnd)
		}
		var b [3]byte
		for i := range b {
			if b[i], err = c.readByte(p.rd); err != nil {
				c.fail(err)
				return Event{}, false, err
			}
		}
		micros := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
		if micros == 0 {
			p.log.Warn("zero tempo ignored, keeping previous", "track", c.index)
			return Event{}, false, nil
		}
		return Event{Type: EventTempoChange, TempoMicros: micros}, true, nil

	case metaTimeSignature:
		if length != 4 {
			p.log.Warn("time signature meta event with bad length, skipped", "track", c.index, "length", length)
			return Event{}, false, p.realignMeta(c, payloadEnd)
		}
		var b [4]byte
		for i := range b {
			if b[i], err = c.readByte(p.rd); err != nil {
				c.fail(err)
				return Event{}, false, err
			}
		}
		if b[0] == 0 {
			p.log.Warn("zero time signature numerator corrected to 4/4", "track", c.index)
			b[0], b[1] = 4, 2
		}
		return Event{
			Type:                EventTimeSignature,
			Numerator:           b[0],
			DenominatorPow2:     b[1],
			ClocksPerClick:      b[2],
			ThirtySecondsPerQtr: b[3],
		}, true, nil

	case metaTrackName:
		name, err := c.readMetaText(p.rd, length)
		if err != nil {
			c.fail(err)
			return Event{}, false, err
		}
		p.log.Info("track name", "track", c.index, "name", name)
		return Event{}, false, p.realignMeta(c, payloadEnd)

	default:
		p.log.Debug("skipping meta event", "track", c.index,
			"type", fmt.Sprintf("0x%02X", metaType), "length", length)
		return Event{}, false, p.realignMeta(c, payloadEnd)
	}
}

// realignMeta forces the cursor to the declared payload end. Hitting the
// track boundary here retires the track.
func (p *Player) realignMeta(c *trackCursor, payloadEnd int64) error {
	if err := c.advanceTo(payloadEnd); err != nil {
		c.fail(fmt.Errorf("meta payload overruns track %d: %w", c.index, err))
		return err
	}
	return nil
}

// readMetaText reads up to length bytes of meta payload as text, capped so
// a hostile length field cannot balloon memory. The cursor is left wherever
// the read stopped; callers realign to the declared end.
func (c *trackCursor) readMetaText(r *reader, length uint32) (string, error) {
	const maxText = 64
	n := length
	if n > maxText {
		n = maxText
	}
	buf := make([]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		b, err := c.readByte(r)
		if err != nil {
			return "", err
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}
