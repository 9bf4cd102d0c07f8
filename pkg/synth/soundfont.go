package synth

import (
	"fmt"
	"os"

	"github.com/zurustar/midistream/pkg/storage"
)

// DefaultSoundFontName is the SoundFont filename searched for when none is
// given explicitly.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// FindSoundFont resolves the SoundFont to load. An explicit path wins and
// must exist. Otherwise the default name is searched, ignoring case, in each
// of searchDirs in order, then in the current directory.
func FindSoundFont(explicit string, searchDirs ...string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("soundfont not found: %s: %w", explicit, err)
		}
		return explicit, nil
	}

	dirs := append([]string{}, searchDirs...)
	dirs = append(dirs, ".")
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if path, err := storage.FindFileCaseInsensitive(dir, DefaultSoundFontName); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s found in %v", DefaultSoundFontName, dirs)
}
