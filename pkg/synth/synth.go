// Package synth renders decoded player events through a SoundFont software
// synthesizer, streamed out via Ebitengine's audio layer. It is demo-level
// glue: the player itself never depends on it.
package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/zurustar/midistream/pkg/player"
)

// SampleRate is the synthesis and output sample rate.
const SampleRate = 44100

var (
	// Ebitengine allows only one audio context per process.
	globalAudioContext *audio.Context
	audioContextMutex  sync.Mutex
)

func getAudioContext() *audio.Context {
	audioContextMutex.Lock()
	defer audioContextMutex.Unlock()

	if globalAudioContext == nil {
		globalAudioContext = audio.NewContext(SampleRate)
	}
	return globalAudioContext
}

// Sink consumes player events and turns them into sound. Wire it up with
// player.SetHandler(sink.Handle).
type Sink struct {
	mu     sync.Mutex
	synth  *meltysynth.Synthesizer
	stream *synthStream
	out    *audio.Player
}

// NewSink loads the SoundFont at path and starts the output stream.
func NewSink(soundFontPath string) (*Sink, error) {
	data, err := os.ReadFile(soundFontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load soundfont %s: %w", soundFontPath, err)
	}

	sf, err := meltysynth.NewSoundFont(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse soundfont %s: %w", soundFontPath, err)
	}

	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	synth, err := meltysynth.NewSynthesizer(sf, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	s := &Sink{synth: synth}
	s.stream = &synthStream{sink: s}

	out, err := getAudioContext().NewPlayer(s.stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio player: %w", err)
	}
	s.out = out
	out.Play()

	return s, nil
}

// Handle is the player.Handler that feeds the synthesizer.
func (s *Sink) Handle(evt player.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := int32(evt.Channel)
	switch evt.Type {
	case player.EventNoteOn:
		s.synth.NoteOn(ch, int32(evt.Data1), int32(evt.Data2))
	case player.EventNoteOff:
		s.synth.NoteOff(ch, int32(evt.Data1))
	case player.EventControlChange:
		s.synth.ProcessMidiMessage(ch, 0xB0, int32(evt.Data1), int32(evt.Data2))
	case player.EventProgramChange:
		s.synth.ProcessMidiMessage(ch, 0xC0, int32(evt.Data1), 0)
	case player.EventPitchBend:
		raw := int32(evt.PitchBend) + 8192
		s.synth.ProcessMidiMessage(ch, 0xE0, raw&0x7F, raw>>7)
	case player.EventPlaybackComplete:
		s.synth.NoteOffAll(false)
	}
}

// Silence releases all sounding notes immediately. Call it on Stop or
// Pause so notes do not hang.
func (s *Sink) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synth.NoteOffAll(true)
}

// Close stops audio output.
func (s *Sink) Close() error {
	return s.out.Close()
}

// synthStream implements io.Reader for the audio player: each Read renders
// the next block of samples from the synthesizer.
type synthStream struct {
	sink *Sink
}

func (st *synthStream) Read(p []byte) (int, error) {
	// 16-bit stereo: 4 bytes per sample frame.
	samples := len(p) / 4
	if samples == 0 {
		return 0, nil
	}

	left := make([]float32, samples)
	right := make([]float32, samples)

	st.sink.mu.Lock()
	st.sink.synth.Render(left, right)
	st.sink.mu.Unlock()

	for i := 0; i < samples; i++ {
		l := int16(clamp(left[i], -1, 1) * 32767)
		r := int16(clamp(right[i], -1, 1) * 32767)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(r))
	}

	return samples * 4, nil
}

func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
