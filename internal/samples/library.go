package samples

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/pitch"
)

var ErrSampleNotFound = errors.New("sample not found")

// Loader decodes one sample file into a mono clip at sampleRate.
type Loader func(path string, sampleRate int) (*audio.Clip, error)

// Library is a directory of instruments, each a directory of note files named
// like "C#3.wav".
type Library struct {
	Root string
}

// Instruments lists the instrument directories under the root, sorted.
func (l Library) Instruments() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Has reports whether instrument is a directory of the library.
func (l Library) Has(instrument string) bool {
	fi, err := os.Stat(filepath.Join(l.Root, instrument))
	return err == nil && fi.IsDir()
}

// Path returns the file expected to hold the note.
func (l Library) Path(instrument string, id pitch.Identity) string {
	return filepath.Join(l.Root, instrument, id.FileName())
}

func (l Library) load(load Loader, path string, sampleRate int) (*audio.Clip, error) {
	clip, err := load(path, sampleRate)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSampleNotFound, path)
	}
	return clip, err
}
