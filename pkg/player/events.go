package player

// EventType identifies the variant carried by an Event.
type EventType int

const (
	// EventNoteOn is a Note On with non-zero velocity.
	EventNoteOn EventType = iota
	// EventNoteOff is a Note Off, or a Note On with velocity zero.
	EventNoteOff
	// EventControlChange is a controller value change.
	EventControlChange
	// EventProgramChange is a program (patch) selection.
	EventProgramChange
	// EventPitchBend is a pitch wheel move, already centered on zero.
	EventPitchBend
	// EventTempoChange is a Set Tempo meta event that passed validation.
	EventTempoChange
	// EventTimeSignature is a Time Signature meta event.
	EventTimeSignature
	// EventEndOfTrack is delivered once per track when it finishes cleanly.
	EventEndOfTrack
	// EventPlaybackComplete is delivered exactly once when every track has
	// finished and the player transitions to StateFinished.
	EventPlaybackComplete
)

// String returns the name of the event type.
func (e EventType) String() string {
	switch e {
	case EventNoteOn:
		return "NoteOn"
	case EventNoteOff:
		return "NoteOff"
	case EventControlChange:
		return "ControlChange"
	case EventProgramChange:
		return "ProgramChange"
	case EventPitchBend:
		return "PitchBend"
	case EventTempoChange:
		return "TempoChange"
	case EventTimeSignature:
		return "TimeSignature"
	case EventEndOfTrack:
		return "EndOfTrack"
	case EventPlaybackComplete:
		return "PlaybackComplete"
	default:
		return "Unknown"
	}
}

// Event is the single tagged-variant delivery type. Which fields are
// meaningful depends on Type; the rest are zero.
type Event struct {
	Type  EventType
	Tick  uint64 // absolute tick the event fired at
	Track int    // source track index (also set for EndOfTrack)

	Channel uint8
	Data1   uint8 // note, controller or program number
	Data2   uint8 // velocity or controller value

	PitchBend   int16  // EventPitchBend: -8192..+8191
	TempoMicros uint32 // EventTempoChange: microseconds per quarter note

	// EventTimeSignature payload. Denominator is the raw power-of-two
	// exponent from the file (2 means /4).
	Numerator           uint8
	DenominatorPow2     uint8
	ClocksPerClick      uint8
	ThirtySecondsPerQtr uint8
}

// Handler consumes decoded events. It is invoked synchronously from
// Advance, so it must return quickly to keep timing accurate.
type Handler func(Event)
