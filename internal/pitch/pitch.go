package pitch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Class is one of the 12 pitch classes, C=0 through B=11.
type Class int

const (
	C Class = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

// NumClasses is the size of the chromatic ordering.
const NumClasses = 12

var ErrUnknownPitch = errors.New("unknown pitch class")

var classNames = [NumClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func (c Class) String() string {
	if c < 0 || c >= NumClasses {
		return fmt.Sprintf("Class(%d)", int(c))
	}
	return classNames[c]
}

// Names returns the pitch class names in chromatic order.
func Names() []string {
	out := make([]string, NumClasses)
	copy(out, classNames[:])
	return out
}

// ParseClass accepts the sharp spellings used for sample file names.
func ParseClass(name string) (Class, error) {
	name = strings.TrimSpace(name)
	for i, n := range classNames {
		if strings.EqualFold(n, name) {
			return Class(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPitch, name)
}

func (c *Class) UnmarshalText(text []byte) error {
	v, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Transpose shifts note up by the interval of key above C. When the sum wraps
// past B the octave is incremented.
func Transpose(note, key Class, octave int) (Class, int) {
	t := Class((int(note) + int(key)) % NumClasses)
	if t < note {
		octave++
	}
	return t, octave
}

// Identity names a sounding note: two presses are the same note iff their
// identities are equal.
type Identity struct {
	Note       Class
	Octave     int
	Instrument string
}

// FileName is the sample file holding the note, e.g. "C#3.wav".
func (id Identity) FileName() string {
	return fmt.Sprintf("%s%d.wav", id.Note, id.Octave)
}

func (id Identity) String() string {
	if id.Instrument == "" {
		return fmt.Sprintf("%s%d", id.Note, id.Octave)
	}
	return fmt.Sprintf("%s%d_%s", id.Note, id.Octave, id.Instrument)
}

// Identify resolves a raw key under the given octave, key and instrument. The
// map's top key sounds one octave above its base note before transposition.
func Identify(keys KeyMap, raw rune, octave int, key Class, instrument string) (Identity, bool) {
	base, ok := keys.Notes[raw]
	if !ok {
		return Identity{}, false
	}
	if raw == keys.Top {
		octave++
	}
	note, oct := Transpose(base, key, octave)
	return Identity{Note: note, Octave: oct, Instrument: InstrumentName(instrument)}, true
}

// InstrumentName reduces an instrument path to the tag used in identities.
func InstrumentName(instrument string) string {
	if instrument == "" {
		return ""
	}
	return filepath.Base(instrument)
}
