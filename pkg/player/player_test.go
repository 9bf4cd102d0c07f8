package player

import (
	"errors"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	p := New(newMemStorage())
	if p.State() != StateStopped {
		t.Errorf("state = %v, want STOPPED", p.State())
	}
	if p.Tempo() != 500000 {
		t.Errorf("tempo = %d, want 500000", p.Tempo())
	}
	if p.Division() != 96 {
		t.Errorf("division = %d, want 96", p.Division())
	}
	if p.CurrentTick() != 0 {
		t.Errorf("tick = %d, want 0", p.CurrentTick())
	}
}

func TestLoad_ReadsHeader(t *testing.T) {
	p, _, _ := loadedPlayer(t, buildSMF(1, 480, singleNoteTrack(0, 10), singleNoteTrack(0, 10)))
	if p.Format() != 1 {
		t.Errorf("format = %d, want 1", p.Format())
	}
	if p.Division() != 480 {
		t.Errorf("division = %d, want 480", p.Division())
	}
	if p.TrackCount() != 2 {
		t.Errorf("tracks = %d, want 2", p.TrackCount())
	}
}

func TestLoad_BadFileEntersErrorState(t *testing.T) {
	st := newMemStorage()
	st.add("bad.mid", []byte("not a midi file"))
	p := New(st)

	if err := p.Load("bad.mid"); err == nil {
		t.Fatal("load of garbage should fail")
	}
	if p.State() != StateError {
		t.Errorf("state = %v, want ERROR", p.State())
	}
	if err := p.Play(); !errors.Is(err, ErrNoFile) {
		t.Errorf("play in error state: err = %v, want ErrNoFile", err)
	}
}

func TestLoad_RecoversFromErrorState(t *testing.T) {
	st := newMemStorage()
	st.add("bad.mid", []byte("garbage"))
	st.add("good.mid", buildSMF(0, 96, singleNoteTrack(0, 10)))
	p := New(st)
	p.SetClock(newFakeClock())

	p.Load("bad.mid")
	if err := p.Load("good.mid"); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("state = %v, want STOPPED", p.State())
	}
	if err := p.Play(); err != nil {
		t.Errorf("play after recovery: %v", err)
	}
}

func TestPlay_NoFile(t *testing.T) {
	p := New(newMemStorage())
	if err := p.Play(); !errors.Is(err, ErrNoFile) {
		t.Errorf("err = %v, want ErrNoFile", err)
	}
}

func TestPlay_ZeroTracks(t *testing.T) {
	p, _, _ := loadedPlayer(t, buildSMF(0, 96))
	if err := p.Play(); !errors.Is(err, ErrNoFile) {
		t.Errorf("err = %v, want ErrNoFile", err)
	}
}

func TestPlay_EmptyTrackFinishesImmediately(t *testing.T) {
	// Track chunk with zero data bytes.
	p, _, _ := loadedPlayer(t, buildSMF(0, 96, []byte{}))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if p.State() != StateFinished {
		t.Errorf("state = %v, want FINISHED", p.State())
	}
	if len(*events) != 1 || (*events)[0].Type != EventPlaybackComplete {
		t.Errorf("events = %+v, want single PlaybackComplete", *events)
	}
}

func TestPlay_DeliversNoteEvents(t *testing.T) {
	// Note on at tick 0, note off at tick 96, division 96 at default tempo:
	// one quarter note, 500ms.
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 96)))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}

	p.Advance() // tick 0: note on is due immediately
	if len(*events) != 1 {
		t.Fatalf("after first advance got %d events, want 1", len(*events))
	}
	on := (*events)[0]
	if on.Type != EventNoteOn || on.Tick != 0 || on.Data1 != 0x3C {
		t.Errorf("first event = %+v, want NoteOn tick 0", on)
	}

	// Just shy of the note off: nothing new.
	clock.advance(480 * time.Millisecond)
	p.Advance()
	if len(*events) != 1 {
		t.Fatalf("event fired early: %+v", (*events)[1:])
	}

	clock.advance(40 * time.Millisecond)
	p.Advance()
	if p.State() != StateFinished {
		t.Fatalf("state = %v, want FINISHED", p.State())
	}

	want := []EventType{EventNoteOn, EventNoteOff, EventEndOfTrack, EventPlaybackComplete}
	if len(*events) != len(want) {
		t.Fatalf("got %d events %+v, want %d", len(*events), *events, len(want))
	}
	for i, w := range want {
		if (*events)[i].Type != w {
			t.Errorf("event %d = %v, want %v", i, (*events)[i].Type, w)
		}
	}
	off := (*events)[1]
	if off.Tick != 96 {
		t.Errorf("note off tick = %d, want 96", off.Tick)
	}
}

func TestPlay_CompleteFiresExactlyOnce(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)

	// Extra Advance calls after finishing must not re-deliver.
	p.Advance()
	p.Advance()

	completes := 0
	for _, evt := range *events {
		if evt.Type == EventPlaybackComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Errorf("PlaybackComplete fired %d times, want 1", completes)
	}
}

func TestPlay_TickMonotonicity(t *testing.T) {
	tb1 := &trackBuilder{}
	track1 := tb1.
		noteOn(0, 0, 0x3C, 0x64).noteOff(30, 0, 0x3C).
		noteOn(15, 0, 0x3E, 0x64).noteOff(45, 0, 0x3E).
		endOfTrack(0).bytes()
	tb2 := &trackBuilder{}
	track2 := tb2.
		noteOn(20, 1, 0x40, 0x64).noteOff(50, 1, 0x40).
		endOfTrack(10).bytes()
	p, clock, _ := loadedPlayer(t, buildSMF(1, 96, track1, track2))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 5*time.Millisecond, 1000)

	var last uint64
	for i, evt := range *events {
		if evt.Tick < last {
			t.Fatalf("event %d tick %d delivered after tick %d", i, evt.Tick, last)
		}
		last = evt.Tick
	}
}

func TestPlay_SameTickLowerTrackFirst(t *testing.T) {
	trackA := singleNoteTrack(0, 10)
	trackB := singleNoteTrack(0, 10)
	p, clock, _ := loadedPlayer(t, buildSMF(1, 96, trackA, trackB))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)

	// Both note-ons land at tick 0; track 0 must be delivered first, and the
	// same ordering holds for the offs at tick 10.
	var order []int
	for _, evt := range *events {
		if evt.Type == EventNoteOn || evt.Type == EventNoteOff {
			order = append(order, evt.Track)
		}
	}
	want := []int{0, 1, 0, 1}
	if len(order) != len(want) {
		t.Fatalf("note events tracks = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("note events tracks = %v, want %v", order, want)
		}
	}
}

func TestPlay_TempoChangeRescales(t *testing.T) {
	// Tempo doubles the rate at tick 0, so the note off at tick 96 lands at
	// 250ms instead of 500ms.
	tb := &trackBuilder{}
	track := tb.
		tempo(0, 250000).
		noteOn(0, 0, 0x3C, 0x64).
		noteOff(96, 0, 0x3C).
		endOfTrack(0).bytes()
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, track))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	p.Advance()
	if p.Tempo() != 250000 {
		t.Errorf("tempo = %d, want 250000", p.Tempo())
	}

	clock.advance(260 * time.Millisecond)
	p.Advance()
	if p.State() != StateFinished {
		t.Errorf("state = %v, want FINISHED at 260ms under doubled tempo", p.State())
	}
	found := false
	for _, evt := range *events {
		if evt.Type == EventNoteOff && evt.Tick == 96 {
			found = true
		}
	}
	if !found {
		t.Errorf("note off at tick 96 not delivered: %+v", *events)
	}
}

func TestPlay_TempoResetsBetweenRuns(t *testing.T) {
	tb := &trackBuilder{}
	track := tb.tempo(0, 300000).endOfTrack(10).bytes()
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, track))

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)
	if p.Tempo() != 300000 {
		t.Fatalf("tempo after run = %d, want 300000", p.Tempo())
	}

	if err := p.Play(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	// The file's tempo applies again only once its event is processed; the
	// run starts from the default.
	p.Stop()
	if p.Tempo() != 500000 {
		t.Errorf("tempo after stop = %d, want default 500000", p.Tempo())
	}
}

func TestPause_FreezesAndResumesTransparently(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 96)))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	p.Advance()
	clock.advance(100 * time.Millisecond)
	p.Advance()
	tickAtPause := p.CurrentTick()

	p.Pause()
	if !p.IsPaused() {
		t.Fatal("not paused")
	}
	clock.advance(10 * time.Second)
	p.Advance() // no-op while paused
	if p.CurrentTick() != tickAtPause {
		t.Errorf("tick moved while paused: %d -> %d", tickAtPause, p.CurrentTick())
	}
	if len(*events) != 1 {
		t.Errorf("events delivered while paused: %+v", (*events)[1:])
	}

	p.Resume()
	if !p.IsPlaying() {
		t.Fatal("not playing after resume")
	}
	p.Advance()
	if p.CurrentTick() != tickAtPause {
		t.Errorf("tick jumped on resume: %d -> %d", tickAtPause, p.CurrentTick())
	}

	// Remaining 400ms of the note plays out as if the pause never happened.
	clock.advance(420 * time.Millisecond)
	p.Advance()
	if p.State() != StateFinished {
		t.Errorf("state = %v, want FINISHED", p.State())
	}
}

func TestPause_OnlyWhilePlaying(t *testing.T) {
	p, _, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	p.Pause()
	if p.State() != StateStopped {
		t.Errorf("pause while stopped changed state to %v", p.State())
	}
	p.Resume()
	if p.State() != StateStopped {
		t.Errorf("resume while stopped changed state to %v", p.State())
	}
}

func TestPlay_WhilePlayingIsNoOp(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 96)))
	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.advance(100 * time.Millisecond)
	p.Advance()
	tick := p.CurrentTick()

	if err := p.Play(); err != nil {
		t.Errorf("second play: %v", err)
	}
	if p.CurrentTick() != tick {
		t.Errorf("play while playing reset tick: %d -> %d", tick, p.CurrentTick())
	}
}

func TestPlay_WhilePausedResumes(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 96)))
	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.advance(100 * time.Millisecond)
	p.Advance()
	p.Pause()

	if err := p.Play(); err != nil {
		t.Errorf("play while paused: %v", err)
	}
	if !p.IsPlaying() {
		t.Errorf("state = %v, want PLAYING", p.State())
	}
}

func TestLoad_ClosesPreviousFile(t *testing.T) {
	st := newMemStorage()
	st.add("a.mid", buildSMF(0, 96, singleNoteTrack(0, 10)))
	p := New(st)
	p.SetClock(newFakeClock())

	if err := p.Load("a.mid"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	first := st.last

	if err := p.Load("a.mid"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if st.opens != 2 {
		t.Fatalf("opens = %d, want 2", st.opens)
	}
	if first.closes != 1 {
		t.Errorf("previous source closed %d times, want 1", first.closes)
	}
	if st.last.closes != 0 {
		t.Errorf("current source closed %d times, want it left open", st.last.closes)
	}
}

func TestStop_ClosesFileWithoutPlay(t *testing.T) {
	p, _, st := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))

	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("state = %v, want STOPPED", p.State())
	}
	if st.last.closes != 1 {
		t.Errorf("source closed %d times after stop, want 1", st.last.closes)
	}

	// Repeat stops must not double-close.
	p.Stop()
	if st.last.closes != 1 {
		t.Errorf("source closed %d times after second stop, want 1", st.last.closes)
	}

	// Play reopens the file by name.
	if err := p.Play(); err != nil {
		t.Fatalf("play after stop: %v", err)
	}
	if st.opens != 2 {
		t.Errorf("opens = %d, want 2 after reopen", st.opens)
	}
}

func TestStop_ResetsAndReplays(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.advance(30 * time.Millisecond)
	p.Advance()
	p.Stop()
	if p.State() != StateStopped {
		t.Fatalf("state = %v, want STOPPED", p.State())
	}
	if p.CurrentTick() != 0 {
		t.Errorf("tick = %d after stop, want 0", p.CurrentTick())
	}

	// Stop closed the file; Play reopens it by name and starts over.
	*events = nil
	if err := p.Play(); err != nil {
		t.Fatalf("replay after stop: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)
	if p.State() != StateFinished {
		t.Fatalf("state = %v, want FINISHED", p.State())
	}
	if len(*events) == 0 || (*events)[0].Type != EventNoteOn || (*events)[0].Tick != 0 {
		t.Errorf("replay events = %+v, want fresh NoteOn at tick 0", *events)
	}
}

func TestPlay_AgainAfterFinish(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)

	*events = nil
	if err := p.Play(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)
	completes := 0
	for _, evt := range *events {
		if evt.Type == EventPlaybackComplete {
			completes++
		}
	}
	if completes != 1 {
		t.Errorf("second run fired PlaybackComplete %d times, want 1", completes)
	}
}

func TestPlay_TrackFailureRetiresOnlyThatTrack(t *testing.T) {
	// Track 0 carries a data byte with no status in effect; track 1 is valid.
	tb := &trackBuilder{}
	broken := tb.delta(0).raw(0x3C, 0x64).endOfTrack(0).bytes()
	good := singleNoteTrack(0, 10)
	p, clock, _ := loadedPlayer(t, buildSMF(1, 96, broken, good))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)

	if p.State() != StateFinished {
		t.Fatalf("state = %v, want FINISHED despite broken track", p.State())
	}
	sawGoodNote := false
	for _, evt := range *events {
		if evt.Type == EventNoteOn && evt.Track == 1 {
			sawGoodNote = true
		}
		if evt.Track == 0 && evt.Type != EventPlaybackComplete {
			t.Errorf("broken track delivered %+v", evt)
		}
	}
	if !sawGoodNote {
		t.Error("healthy track's events were lost")
	}
}

func TestPlay_ReadFailureRetiresOnlyThatTrack(t *testing.T) {
	// Track 0 is longer than one buffer window so playback needs a second
	// refill, which the storage fails. Track 1 stays healthy.
	tb := &trackBuilder{}
	for i := 0; i < 20; i++ {
		tb.noteOn(0, 0, 0x30+byte(i), 0x64).noteOff(0, 0, 0x30+byte(i))
	}
	long := tb.endOfTrack(0).bytes()
	good := singleNoteTrack(0, 10)
	p, clock, st := loadedPlayer(t, buildSMF(1, 96, long, good))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	st.last.failReadAfter = st.last.reads

	playUntilDone(t, p, clock, 10*time.Millisecond, 100)
	if p.State() != StateFinished {
		t.Fatalf("state = %v, want FINISHED", p.State())
	}
	sawGoodOff := false
	for _, evt := range *events {
		if evt.Type == EventNoteOff && evt.Track == 1 {
			sawGoodOff = true
		}
	}
	if !sawGoodOff {
		t.Error("healthy track's events were lost")
	}
}

func TestPlay_SeekFailureEndsSession(t *testing.T) {
	// As above, but the reposition before the refill fails. A lost file
	// position cannot be confined to one track.
	tb := &trackBuilder{}
	for i := 0; i < 20; i++ {
		tb.noteOn(0, 0, 0x30+byte(i), 0x64).noteOff(0, 0, 0x30+byte(i))
	}
	long := tb.endOfTrack(0).bytes()
	good := singleNoteTrack(0, 10)
	p, clock, st := loadedPlayer(t, buildSMF(1, 96, long, good))

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	st.last.failSeeks = true

	for i := 0; i < 100 && p.State() == StatePlaying; i++ {
		p.Advance()
		clock.advance(10 * time.Millisecond)
	}
	if p.State() != StateError {
		t.Fatalf("state = %v, want ERROR after seek failure", p.State())
	}
	if err := p.Play(); !errors.Is(err, ErrNoFile) {
		t.Errorf("play after seek failure: err = %v, want ErrNoFile", err)
	}
}

func TestPlay_TrackWithoutEndOfTrack(t *testing.T) {
	// Track data simply runs out after the note off.
	tb := &trackBuilder{}
	track := tb.noteOn(0, 0, 0x3C, 0x64).noteOff(10, 0, 0x3C).bytes()
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, track))
	events := collectEvents(p)

	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)

	if p.State() != StateFinished {
		t.Fatalf("state = %v, want FINISHED", p.State())
	}
	types := []EventType{}
	for _, evt := range *events {
		types = append(types, evt.Type)
	}
	want := []EventType{EventNoteOn, EventNoteOff, EventPlaybackComplete}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestAdvance_NoOpUnlessPlaying(t *testing.T) {
	p, _, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	events := collectEvents(p)
	p.Advance()
	if len(*events) != 0 {
		t.Errorf("advance while stopped delivered %+v", *events)
	}
}

func TestNilHandlerIsSafe(t *testing.T) {
	p, clock, _ := loadedPlayer(t, buildSMF(0, 96, singleNoteTrack(0, 10)))
	if err := p.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	playUntilDone(t, p, clock, 10*time.Millisecond, 100)
	if p.State() != StateFinished {
		t.Errorf("state = %v, want FINISHED", p.State())
	}
}
