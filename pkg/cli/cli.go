// Package cli parses command line arguments and environment variables into
// the player tool's configuration.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings parsed from flags and environment.
type Config struct {
	File      string        // MIDI file to load at startup (positional)
	SoundFont string        // SoundFont for audio output; empty disables synthesis
	LogLevel  string        // verbose, debug, info, warn, error
	Timeout   time.Duration // stop after this long (0 = unlimited)
	NoAudio   bool          // decode and log events without synthesis
	ShowHelp  bool
}

// ParseArgs parses args (without the program name) into a Config.
// Environment variables fill in anything the flags leave at defaults:
// LOG_LEVEL, TIMEOUT (seconds), NO_AUDIO, SOUNDFONT.
func ParseArgs(args []string) (*Config, error) {
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("midistream", flag.ContinueOnError)

	config := &Config{}

	var timeoutSec int
	fs.IntVar(&timeoutSec, "timeout", 0, "stop playback after the given number of seconds")
	fs.IntVar(&timeoutSec, "t", 0, "stop playback after the given number of seconds (shorthand)")
	fs.StringVar(&config.LogLevel, "log-level", "info", "log level (verbose, debug, info, warn, error)")
	fs.StringVar(&config.LogLevel, "l", "info", "log level (shorthand)")
	fs.StringVar(&config.SoundFont, "soundfont", "", "SoundFont (.sf2) file for audio output")
	fs.StringVar(&config.SoundFont, "s", "", "SoundFont file (shorthand)")
	fs.BoolVar(&config.NoAudio, "no-audio", false, "decode without synthesizing audio")
	fs.BoolVar(&config.ShowHelp, "help", false, "show help")
	fs.BoolVar(&config.ShowHelp, "h", false, "show help (shorthand)")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	// Environment fallbacks; explicit flags win.
	if !config.NoAudio {
		if v := os.Getenv("NO_AUDIO"); v != "" {
			config.NoAudio = v == "1" || strings.ToLower(v) == "true"
		}
	}
	if timeoutSec == 0 {
		if v := os.Getenv("TIMEOUT"); v != "" {
			if t, err := strconv.Atoi(v); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}
	if config.LogLevel == "info" {
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			config.LogLevel = strings.ToLower(v)
		}
	}
	if config.SoundFont == "" {
		config.SoundFont = os.Getenv("SOUNDFONT")
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second

	validLogLevels := map[string]bool{
		"verbose": true,
		"debug":   true,
		"info":    true,
		"warn":    true,
		"error":   true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be verbose, debug, info, warn, or error)", config.LogLevel)
	}

	if fs.NArg() > 0 {
		config.File = fs.Arg(0)
	}

	return config, nil
}

// reorderArgs moves flags ahead of positional arguments so the standard
// flag package sees all of them regardless of the order typed.
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	valueFlags := map[string]bool{
		"-timeout": true, "-t": true,
		"-log-level": true, "-l": true,
		"-soundfont": true, "-s": true,
		"--timeout": true, "--log-level": true, "--soundfont": true,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if len(arg) > 0 && arg[0] == '-' {
			flags = append(flags, arg)
			if valueFlags[arg] && !strings.Contains(arg, "=") && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}

	return append(flags, positional...)
}

// Usage returns the help text.
func Usage() string {
	return `midistream - stream a Standard MIDI File and play it in real time

Usage:
  midistream [flags] [file.mid]

Flags:
  -s, -soundfont FILE   SoundFont (.sf2) for audio output
  -l, -log-level LEVEL  verbose, debug, info, warn, error (default info)
  -t, -timeout SECONDS  stop playback after SECONDS
      -no-audio         decode and log events without synthesis
  -h, -help             show this help

Without -soundfont, GeneralUser-GS.sf2 is searched for next to the MIDI
file and in the current directory.

Console commands (read from stdin):
  load FILE | play | pause | resume | stop | status | quit
`
}
