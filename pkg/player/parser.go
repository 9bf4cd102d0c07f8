package player

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/zurustar/midistream/pkg/storage"
)

const (
	headerMarker = "MThd"
	trackMarker  = "MTrk"

	// fallbackDivision replaces an SMPTE or zero division field.
	fallbackDivision = 96

	// defaultTempoMicros is 120 BPM in microseconds per quarter note.
	defaultTempoMicros = 500000
)

// songHeader holds the parsed MThd fields. Division is already normalized:
// SMPTE and zero values have been replaced by fallbackDivision.
type songHeader struct {
	format     uint16
	trackCount uint16
	division   uint16

	// smpteFallback records that the file declared a time-code division
	// and the fallback was substituted. Timing accuracy is degraded.
	smpteFallback bool
}

// trackRange is the byte range of one track's event data within the file.
type trackRange struct {
	start int64
	end   int64
}

// parseFile reads the header chunk and enumerates the track chunks of an
// open source. Runs once per load; the returned ranges drive all later
// cursor reads.
func parseFile(src storage.Source, log *slog.Logger) (songHeader, []trackRange, error) {
	var hdr songHeader

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return hdr, nil, fmt.Errorf("%w: %v", ErrSeekFailure, err)
	}

	var chunk [8]byte
	if _, err := io.ReadFull(src, chunk[:]); err != nil {
		return hdr, nil, fmt.Errorf("%w: file too small for header", ErrInvalidHeader)
	}

	if string(chunk[:4]) != headerMarker {
		return hdr, nil, fmt.Errorf("%w: got %q", ErrInvalidHeader, chunk[:4])
	}

	headerLen := binary.BigEndian.Uint32(chunk[4:])
	if headerLen < 6 {
		return hdr, nil, fmt.Errorf("%w: header length %d", ErrInvalidHeader, headerLen)
	}

	var fields [6]byte
	if _, err := io.ReadFull(src, fields[:]); err != nil {
		return hdr, nil, fmt.Errorf("%w: truncated header fields", ErrInvalidHeader)
	}
	hdr.format = binary.BigEndian.Uint16(fields[0:2])
	hdr.trackCount = binary.BigEndian.Uint16(fields[2:4])
	division := binary.BigEndian.Uint16(fields[4:6])

	if headerLen > 6 {
		log.Debug("skipping extra header bytes", "count", headerLen-6)
		if _, err := src.Seek(int64(headerLen-6), io.SeekCurrent); err != nil {
			return hdr, nil, fmt.Errorf("%w: %v", ErrSeekFailure, err)
		}
	}

	switch {
	case division&0x8000 != 0:
		log.Warn("substituting fallback division for SMPTE timing, accuracy degraded",
			"division", division, "fallback", fallbackDivision, "err", ErrUnsupportedTiming)
		hdr.division = fallbackDivision
		hdr.smpteFallback = true
	case division == 0:
		log.Warn("zero division field, using fallback", "fallback", fallbackDivision)
		hdr.division = fallbackDivision
	default:
		hdr.division = division
	}

	log.Info("MIDI header parsed",
		"format", hdr.format, "tracks", hdr.trackCount, "division", hdr.division)

	ranges, err := locateTracks(src, hdr.trackCount, log)
	if err != nil {
		return hdr, nil, err
	}
	return hdr, ranges, nil
}

// locateTracks scans forward from the current position collecting count
// MTrk ranges. Alien chunks are skipped by their declared length.
func locateTracks(src storage.Source, count uint16, log *slog.Logger) ([]trackRange, error) {
	size := src.Size()
	ranges := make([]trackRange, 0, count)

	pos, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeekFailure, err)
	}

	var chunk [8]byte
	for len(ranges) < int(count) {
		if pos+8 > size {
			return nil, fmt.Errorf("%w: found %d of %d tracks", ErrMissingTrack, len(ranges), count)
		}
		if _, err := io.ReadFull(src, chunk[:]); err != nil {
			return nil, fmt.Errorf("%w: found %d of %d tracks", ErrMissingTrack, len(ranges), count)
		}
		tag := string(chunk[:4])
		length := binary.BigEndian.Uint32(chunk[4:])
		dataStart := pos + 8
		dataEnd := dataStart + int64(length)

		if tag == trackMarker {
			if dataEnd > size {
				return nil, fmt.Errorf("%w: track %d declares %d bytes at offset %d, file is %d",
					ErrTruncatedChunk, len(ranges), length, dataStart, size)
			}
			ranges = append(ranges, trackRange{start: dataStart, end: dataEnd})
			log.Debug("track chunk located",
				"track", len(ranges)-1, "start", dataStart, "end", dataEnd)
		} else {
			// A zero-length alien chunk would leave the scan spinning
			// over the same declared content forever.
			if length == 0 {
				return nil, fmt.Errorf("%w: zero-length %q chunk at offset %d",
					ErrInvalidHeader, tag, pos)
			}
			if dataEnd > size {
				return nil, fmt.Errorf("%w: %q chunk declares %d bytes at offset %d, file is %d",
					ErrTruncatedChunk, tag, length, dataStart, size)
			}
			log.Info("skipping unknown chunk", "tag", tag, "offset", pos, "length", length)
		}

		if _, err := src.Seek(dataEnd, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSeekFailure, err)
		}
		pos = dataEnd
	}

	return ranges, nil
}
