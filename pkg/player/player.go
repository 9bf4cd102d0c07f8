// Package player streams a Standard MIDI File from a storage source and
// reproduces its events in real time without holding the file in memory.
// The caller drives playback by invoking Advance on a short period (under
// ~10ms keeps timing accurate); decoded events are pushed synchronously to
// a single registered Handler.
package player

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zurustar/midistream/pkg/logger"
	"github.com/zurustar/midistream/pkg/storage"
)

// State is the playback state machine position.
type State int

const (
	// StateStopped is the initial state: no position, tick zero.
	StateStopped State = iota
	// StatePlaying means Advance is consuming events.
	StatePlaying
	// StatePaused freezes the tick counter without losing position.
	StatePaused
	// StateFinished means every track retired; terminal until Play or Load.
	StateFinished
	// StateError is entered on load failure or a seek failure during
	// playback; terminal until a successful Load.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateFinished:
		return "FINISHED"
	case StateError:
		return "ERROR"
	default:
		return "Unknown"
	}
}

// Clock is the wall-clock source. The tick scheduler only ever subtracts
// readings, so the monotonic component of time.Time makes the arithmetic
// immune to wall-clock adjustments.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Player is a single-file streaming MIDI player. It is not safe for
// concurrent use; the intended shape is one goroutine (or one embedded
// main loop) calling Advance and the control methods.
type Player struct {
	store   storage.Storage
	clock   Clock
	log     *slog.Logger
	handler Handler

	src      storage.Source
	rd       *reader
	filename string

	header songHeader
	tracks []*trackCursor

	state         State
	tempoMicros   uint32
	microsPerTick float64
	currentTick   uint64
	active        int

	pending pendingSet

	// Wall-clock anchors for drift-free tick conversion across pauses.
	playbackStart time.Time
	lastSync      time.Time
	pauseStart    time.Time

	completeFired bool
}

// New creates a player that opens files through store. Defaults: tempo
// 500000 µs per quarter note (120 BPM), division 96 until a file is loaded.
func New(store storage.Storage) *Player {
	p := &Player{
		store:       store,
		clock:       systemClock{},
		log:         logger.ForComponent("player"),
		state:       StateStopped,
		tempoMicros: defaultTempoMicros,
		pending:     newHeapSet(),
	}
	p.header.division = fallbackDivision
	p.recalcTickDuration()
	return p
}

// SetClock replaces the wall-clock source. Tests use this to make pause
// and scheduling behavior deterministic.
func (p *Player) SetClock(c Clock) {
	if c != nil {
		p.clock = c
	}
}

// SetHandler registers the single event consumer. A nil handler silences
// delivery without affecting playback.
func (p *Player) SetHandler(h Handler) {
	p.handler = h
}

// State returns the current playback state.
func (p *Player) State() State { return p.state }

// IsPlaying reports whether playback is running.
func (p *Player) IsPlaying() bool { return p.state == StatePlaying }

// IsPaused reports whether playback is paused.
func (p *Player) IsPaused() bool { return p.state == StatePaused }

// CurrentTick returns the virtual tick counter. It only advances while
// playing.
func (p *Player) CurrentTick() uint64 { return p.currentTick }

// Tempo returns the active tempo in microseconds per quarter note.
func (p *Player) Tempo() uint32 { return p.tempoMicros }

// Division returns the ticks-per-quarter-note resolution of the loaded
// file, or the fallback when nothing is loaded.
func (p *Player) Division() uint16 { return p.header.division }

// Format returns the SMF format (0, 1 or 2) of the loaded file.
func (p *Player) Format() uint16 { return p.header.format }

// TrackCount returns the number of located tracks.
func (p *Player) TrackCount() int { return len(p.tracks) }

// Load opens and parses the named file, replacing whatever was loaded.
// Playback always stops first. On a parse failure the player holds no
// tracks and sits in StateError until another Load succeeds.
func (p *Player) Load(name string) error {
	p.log.Info("loading MIDI file", "name", name)
	p.Stop()

	p.tracks = nil
	p.filename = ""

	src, err := p.store.Open(name)
	if err != nil {
		p.log.Error("failed to open file", "name", name, "err", err)
		p.state = StateError
		return err
	}

	header, ranges, err := parseFile(src, p.log)
	if err != nil {
		p.log.Error("failed to parse file", "name", name, "err", err)
		src.Close()
		p.state = StateError
		return err
	}

	p.src = src
	p.rd = newReader(src, p.log)
	p.header = header
	p.filename = name
	p.tracks = make([]*trackCursor, len(ranges))
	for i, rng := range ranges {
		p.tracks[i] = newTrackCursor(i, rng)
	}
	p.tempoMicros = defaultTempoMicros
	p.recalcTickDuration()
	p.state = StateStopped

	p.log.Info("file loaded", "name", name, "tracks", len(p.tracks),
		"format", header.format, "division", header.division)
	return nil
}

// Play starts playback from the beginning, or resumes when paused. Calling
// it while already playing is a logged no-op.
func (p *Player) Play() error {
	switch p.state {
	case StatePlaying:
		p.log.Debug("already playing, ignoring play")
		return nil
	case StatePaused:
		p.resumeFromPause()
		return nil
	case StateError:
		p.log.Error("player in error state, load a file to recover")
		return ErrNoFile
	}

	if len(p.tracks) == 0 {
		p.log.Error("no MIDI data loaded for playback")
		return ErrNoFile
	}

	// Stop closes the file but keeps the parsed layout; reopen by name.
	if p.src == nil {
		src, err := p.store.Open(p.filename)
		if err != nil {
			p.log.Error("failed to reopen file", "name", p.filename, "err", err)
			p.state = StateError
			return err
		}
		p.src = src
		p.rd = newReader(src, p.log)
		p.log.Debug("reopened file for playback", "name", p.filename)
	}

	p.resetPlayback()
	p.primeTracks()

	if p.active == 0 {
		p.log.Info("no events found in any track, playback finished immediately")
		p.state = StateFinished
		p.fireComplete()
		return nil
	}

	now := p.clock.Now()
	p.playbackStart = now
	p.lastSync = now
	p.state = StatePlaying
	p.log.Info("playback started",
		"bpm", 60000000.0/float64(p.tempoMicros), "division", p.header.division,
		"activeTracks", p.active)
	return nil
}

// Pause freezes the tick counter. No-op unless playing.
func (p *Player) Pause() {
	if p.state != StatePlaying {
		return
	}
	p.state = StatePaused
	p.pauseStart = p.clock.Now()
	p.log.Info("playback paused", "tick", p.currentTick)
}

// Resume continues after Pause. No-op in any other state.
func (p *Player) Resume() {
	if p.state != StatePaused {
		return
	}
	p.resumeFromPause()
}

// resumeFromPause shifts every wall-clock anchor forward by the paused
// duration, so the tick counter continues as if the pause never happened.
func (p *Player) resumeFromPause() {
	paused := p.clock.Now().Sub(p.pauseStart)
	p.playbackStart = p.playbackStart.Add(paused)
	p.lastSync = p.lastSync.Add(paused)
	p.state = StatePlaying
	p.log.Info("playback resumed", "tick", p.currentTick, "pausedFor", paused)
}

// Stop ends playback, closes the file and resets all scheduler and cursor
// state. The file is closed even when playback never started, so a stopped
// player holds no handle. An in-progress decode is simply abandoned; the
// next Play fully resets the cursors.
func (p *Player) Stop() {
	if p.state == StateStopped && p.src == nil {
		return
	}
	if p.state != StateStopped {
		p.log.Info("stopping playback")
	}
	p.resetPlayback()
	if p.src != nil {
		p.src.Close()
		p.src = nil
		p.rd = nil
	}
	p.state = StateStopped
}

// resetPlayback zeroes the tick counter and rewinds every cursor.
func (p *Player) resetPlayback() {
	p.currentTick = 0
	p.tempoMicros = defaultTempoMicros
	p.recalcTickDuration()
	p.pending.clear()
	p.completeFired = false
	p.active = 0
	for _, c := range p.tracks {
		c.reset()
	}
}

// primeTracks reads each track's first delta time and schedules it.
func (p *Player) primeTracks() {
	for _, c := range p.tracks {
		if c.remaining() <= 0 {
			p.log.Warn("empty track", "track", c.index)
			c.finishClean()
			continue
		}
		delta, err := c.readVLQ(p.rd)
		if err != nil {
			p.log.Warn("track retired reading first delta time", "track", c.index, "err", err)
			c.fail(err)
			continue
		}
		c.nextEventTick = uint64(delta)
		p.pending.push(pendingEntry{tick: c.nextEventTick, track: c.index})
		p.active++
	}
	p.log.Debug("tracks primed", "active", p.active)
}

// Advance synchronizes the tick counter with the wall clock and processes
// every event due at the current tick. It must be called on a regular,
// short period while playing; it returns immediately in any other state.
func (p *Player) Advance() {
	if p.state != StatePlaying {
		return
	}

	p.syncTick()
	p.drainDueEvents()

	if p.state == StatePlaying {
		p.updateActiveTracks()
	}
}

// syncTick converts wall-clock time since the last sync point into whole
// ticks. The sync point advances by exactly the duration of the ticks
// consumed, never by the raw elapsed time, so the fractional remainder
// carries over instead of accumulating as drift.
func (p *Player) syncTick() {
	elapsed := p.clock.Now().Sub(p.lastSync)
	if elapsed <= 0 {
		return
	}
	ticks := uint64(float64(elapsed.Microseconds()) / p.microsPerTick)
	if ticks == 0 {
		return
	}
	p.currentTick += ticks
	consumed := time.Duration(float64(ticks) * p.microsPerTick * float64(time.Microsecond))
	p.lastSync = p.lastSync.Add(consumed)
}

// drainDueEvents pops and processes pending events until the earliest one
// lies in the future.
func (p *Player) drainDueEvents() {
	for {
		next, ok := p.pending.peek()
		if !ok || next.tick > p.currentTick {
			return
		}
		p.pending.pop()

		c := p.tracks[next.track]
		if c.finished {
			// Stale entry for a track retired after scheduling.
			continue
		}

		evt, deliverable, err := p.decodeEvent(c)
		if err != nil {
			if errors.Is(err, ErrSeekFailure) {
				p.log.Log(context.Background(), logger.LevelFatal, "seek failed, session position untrustworthy", "err", err)
				p.state = StateError
				return
			}
			p.log.Error("track retired by decode error", "track", c.index, "tick", next.tick, "err", err)
			continue
		}

		if deliverable && evt.Type == EventTempoChange {
			p.setTempo(evt.TempoMicros)
		}

		// Schedule this track's next event before delivering, so a
		// handler observing state sees a consistent schedule.
		if !c.finished {
			p.scheduleNext(c, next.tick)
		}

		if deliverable {
			evt.Tick = next.tick
			evt.Track = c.index
			p.emit(evt)
		}
	}
}

// scheduleNext reads the track's next delta time and re-queues it at
// eventTick + delta.
func (p *Player) scheduleNext(c *trackCursor, eventTick uint64) {
	delta, err := c.readVLQ(p.rd)
	if err != nil {
		if errors.Is(err, errTrackEnd) {
			p.log.Warn("track ended without End of Track meta", "track", c.index)
			c.finishClean()
		} else {
			p.log.Error("track retired reading delta time", "track", c.index, "err", err)
			c.fail(err)
		}
		return
	}
	c.nextEventTick = eventTick + uint64(delta)
	p.pending.push(pendingEntry{tick: c.nextEventTick, track: c.index})
}

// updateActiveTracks recounts unfinished tracks and finishes playback when
// none remain.
func (p *Player) updateActiveTracks() {
	active := 0
	for _, c := range p.tracks {
		if !c.finished {
			active++
		}
	}
	if active != p.active {
		p.log.Debug("active track count changed", "from", p.active, "to", active)
		p.active = active
	}
	if p.active == 0 {
		p.pending.clear()
		p.state = StateFinished
		p.log.Info("playback completed, all tracks finished", "tick", p.currentTick)
		p.fireComplete()
	}
}

// setTempo applies a validated tempo and recomputes the tick duration.
func (p *Player) setTempo(micros uint32) {
	p.tempoMicros = micros
	p.recalcTickDuration()
	p.log.Info("tempo changed",
		"microsPerQuarter", micros, "bpm", 60000000.0/float64(micros))
}

func (p *Player) recalcTickDuration() {
	p.microsPerTick = float64(p.tempoMicros) / float64(p.header.division)
}

func (p *Player) fireComplete() {
	if p.completeFired {
		return
	}
	p.completeFired = true
	p.emit(Event{Type: EventPlaybackComplete, Tick: p.currentTick})
}

func (p *Player) emit(evt Event) {
	if p.handler != nil {
		p.handler(evt)
	}
}
