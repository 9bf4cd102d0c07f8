package player

import "errors"

// Load-time structural errors. Any of these leaves the player in StateError
// until another Load succeeds.
var (
	// ErrInvalidHeader is returned when the file does not start with a
	// well-formed MThd chunk.
	ErrInvalidHeader = errors.New("invalid MIDI header")

	// ErrUnsupportedTiming marks an SMPTE (time-code) division field. The
	// player substitutes a fallback division instead of failing the load,
	// so this error is only ever seen wrapped in a warning.
	ErrUnsupportedTiming = errors.New("SMPTE time division not supported")

	// ErrTruncatedChunk is returned when a chunk's declared length runs
	// past the end of the file.
	ErrTruncatedChunk = errors.New("chunk extends past end of file")

	// ErrMissingTrack is returned when fewer MTrk chunks are found than
	// the header announced.
	ErrMissingTrack = errors.New("track chunk missing")
)

// Playback errors. All but ErrSeekFailure are fatal only to the track they
// occur on; the track is retired and playback continues.
var (
	// ErrMalformedVLQ is returned when a variable-length quantity does not
	// terminate within the 4-byte MIDI maximum.
	ErrMalformedVLQ = errors.New("variable-length quantity exceeds 4 bytes")

	// ErrRunningStatus is returned when a data byte appears with no
	// channel-voice running status in effect.
	ErrRunningStatus = errors.New("data byte without running status")

	// ErrReadFailure is returned when the storage read comes up short.
	ErrReadFailure = errors.New("storage read failed")

	// ErrSeekFailure is returned when the shared storage position cannot
	// be repositioned. The position is no longer trustworthy, so this is
	// fatal to the whole session, not just one track.
	ErrSeekFailure = errors.New("storage seek failed")
)

// ErrNoFile is returned by Play when nothing has been loaded.
var ErrNoFile = errors.New("no MIDI file loaded")

// errTrackEnd signals that a cursor ran out of track data mid-event. It is
// internal: callers translate it into a retired track.
var errTrackEnd = errors.New("end of track data")
