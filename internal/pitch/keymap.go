package pitch

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// KeyMap binds raw input keys to the base notes they play.
type KeyMap struct {
	Notes map[rune]Class
	// Top is the key that plays the tonic one octave up; 0 means none.
	Top rune
}

// DefaultKeyMap is the number row: backquote through '=' covers C to the
// C above it.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Notes: map[rune]Class{
			'`': C,
			'1': CSharp,
			'2': D,
			'3': DSharp,
			'4': E,
			'5': F,
			'6': FSharp,
			'7': G,
			'8': GSharp,
			'9': A,
			'0': ASharp,
			'-': B,
			'=': C,
		},
		Top: '=',
	}
}

// ParseKeyMap builds a KeyMap from single-character keys and note names.
func ParseKeyMap(notes map[string]string, top string) (KeyMap, error) {
	km := KeyMap{Notes: make(map[rune]Class, len(notes))}
	for k, n := range notes {
		r, err := singleRune(k)
		if err != nil {
			return KeyMap{}, err
		}
		c, err := ParseClass(n)
		if err != nil {
			return KeyMap{}, fmt.Errorf("key %q: %w", k, err)
		}
		km.Notes[r] = c
	}
	if top != "" {
		r, err := singleRune(top)
		if err != nil {
			return KeyMap{}, err
		}
		if _, ok := km.Notes[r]; !ok {
			return KeyMap{}, fmt.Errorf("top key %q is not mapped", top)
		}
		km.Top = r
	}
	return km, nil
}

// Keys returns the mapped raw keys in a stable order.
func (km KeyMap) Keys() []rune {
	out := make([]rune, 0, len(km.Notes))
	for r := range km.Notes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func singleRune(s string) (rune, error) {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("key %q must be a single character", s)
	}
	return r, nil
}
