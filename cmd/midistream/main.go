package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/zurustar/midistream/pkg/cli"
	"github.com/zurustar/midistream/pkg/logger"
	"github.com/zurustar/midistream/pkg/player"
	"github.com/zurustar/midistream/pkg/storage"
	"github.com/zurustar/midistream/pkg/synth"
)

// advancePeriod is how often the playback loop calls Advance. Anything
// under ~10ms keeps event timing accurate.
const advancePeriod = 5 * time.Millisecond

func main() {
	config, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if config.ShowHelp {
		fmt.Print(cli.Usage())
		return
	}

	if err := logger.InitLogger(config.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(config *cli.Config) error {
	log := logger.ForComponent("main")

	baseDir := ""
	file := config.File
	if file != "" {
		baseDir = filepath.Dir(file)
		file = filepath.Base(file)
	}
	p := player.New(storage.NewRealStorage(baseDir))

	var sink *synth.Sink
	if !config.NoAudio {
		sfPath, err := synth.FindSoundFont(config.SoundFont, baseDir)
		switch {
		case err != nil && config.SoundFont != "":
			return err
		case err != nil:
			log.Warn("no soundfont found, running silent", "err", err)
		default:
			if sink, err = synth.NewSink(sfPath); err != nil {
				return err
			}
			defer sink.Close()
			log.Info("audio output enabled", "soundfont", sfPath)
		}
	}

	p.SetHandler(func(evt player.Event) {
		if sink != nil {
			sink.Handle(evt)
		}
		switch evt.Type {
		case player.EventNoteOn, player.EventNoteOff:
			log.Debug(evt.Type.String(),
				"tick", evt.Tick, "channel", evt.Channel, "note", evt.Data1, "velocity", evt.Data2)
		case player.EventTempoChange:
			log.Info("tempo change", "tick", evt.Tick, "microsPerQuarter", evt.TempoMicros)
		case player.EventEndOfTrack:
			log.Debug("end of track", "track", evt.Track, "tick", evt.Tick)
		case player.EventPlaybackComplete:
			log.Info("playback complete", "tick", evt.Tick)
		}
	})

	if file != "" {
		if err := p.Load(file); err != nil {
			return err
		}
		if err := p.Play(); err != nil {
			return err
		}
	}

	commands := make(chan []string)
	go readConsole(commands)

	var deadline <-chan time.Time
	if config.Timeout > 0 {
		deadline = time.After(config.Timeout)
	}

	ticker := time.NewTicker(advancePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Advance()

		case <-deadline:
			log.Info("timeout reached, stopping")
			p.Stop()
			return nil

		case words, ok := <-commands:
			if !ok {
				// stdin closed: keep playing to the end, then leave.
				if p.State() != player.StatePlaying && p.State() != player.StatePaused {
					return nil
				}
				commands = nil
				continue
			}
			if quit := dispatch(p, sink, words); quit {
				p.Stop()
				return nil
			}

		default:
			if commands == nil && p.State() == player.StateFinished {
				return nil
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// readConsole feeds stdin lines, split shell-style, into the command
// channel. Closes the channel on EOF.
func readConsole(commands chan<- []string) {
	defer close(commands)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		words, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad command line: %v\n", err)
			continue
		}
		if len(words) > 0 {
			commands <- words
		}
	}
}

// dispatch executes one console command. Returns true when the tool
// should exit.
func dispatch(p *player.Player, sink *synth.Sink, words []string) bool {
	switch strings.ToLower(words[0]) {
	case "load":
		if len(words) < 2 {
			fmt.Println("usage: load FILE")
			return false
		}
		if err := p.Load(words[1]); err != nil {
			fmt.Printf("load failed: %v\n", err)
		}
	case "play":
		if err := p.Play(); err != nil {
			fmt.Printf("play failed: %v\n", err)
		}
	case "pause":
		p.Pause()
		if sink != nil {
			sink.Silence()
		}
	case "resume":
		p.Resume()
	case "stop":
		p.Stop()
		if sink != nil {
			sink.Silence()
		}
	case "status":
		fmt.Printf("state=%s tick=%d tempo=%dus/qn division=%d tracks=%d\n",
			p.State(), p.CurrentTick(), p.Tempo(), p.Division(), p.TrackCount())
	case "quit", "exit":
		return true
	default:
		fmt.Printf("unknown command %q\n", words[0])
	}
	return false
}
