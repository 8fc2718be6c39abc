package tts

import (
	"fmt"
	"sort"
)

// Catalog is a static voice lookup table.
type Catalog struct {
	voices map[string]Voice
}

// NewCatalog builds a catalog from a voice list. Later duplicates win.
func NewCatalog(voices ...Voice) *Catalog {
	c := &Catalog{voices: make(map[string]Voice, len(voices))}
	for _, v := range voices {
		c.voices[v.Name] = v
	}
	return c
}

// DefaultCatalog returns the voices shipped with a stock MaryTTS 5 install.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Voice{Name: "istc-lucia-hsmm", Locale: "it", Gender: "female"},
		Voice{Name: "cmu-slt", Locale: "en_US", Gender: "female"},
		Voice{Name: "cmu-slt-hsmm", Locale: "en_US", Gender: "female"},
		Voice{Name: "cmu-bdl-hsmm", Locale: "en_US", Gender: "male"},
		Voice{Name: "cmu-rms-hsmm", Locale: "en_US", Gender: "male"},
		Voice{Name: "dfki-prudence", Locale: "en_GB", Gender: "female"},
		Voice{Name: "dfki-prudence-hsmm", Locale: "en_GB", Gender: "female"},
		Voice{Name: "dfki-poppy", Locale: "en_GB", Gender: "female"},
		Voice{Name: "dfki-poppy-hsmm", Locale: "en_GB", Gender: "female"},
		Voice{Name: "dfki-obadiah", Locale: "en_GB", Gender: "male"},
		Voice{Name: "dfki-obadiah-hsmm", Locale: "en_GB", Gender: "male"},
		Voice{Name: "dfki-spike", Locale: "en_GB", Gender: "male"},
		Voice{Name: "dfki-spike-hsmm", Locale: "en_GB", Gender: "male"},
		Voice{Name: "upmc-pierre-hsmm", Locale: "fr", Gender: "male"},
		Voice{Name: "enst-camille-hsmm", Locale: "fr", Gender: "female"},
	)
}

// Lookup returns the voice with the given name.
func (c *Catalog) Lookup(name string) (Voice, error) {
	v, ok := c.voices[name]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %s", ErrVoiceNotFound, name)
	}
	return v, nil
}

// List returns all voices sorted by name.
func (c *Catalog) List() []Voice {
	out := make([]Voice, 0, len(c.voices))
	for _, v := range c.voices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var demoSentences = map[string][]string{
	"en_US": {
		"The quick brown fox jumps over the lazy dog",
		"Hello, how are you?",
	},
	"en_GB": {
		"The quick brown fox jumps over the lazy dog",
		"Hello, how are you?",
	},
	"fr": {
		"Bienvenue dans le monde de la synthèse de la parole!",
		"Bonjour, comment ça marche?",
	},
	"it": {
		"Ciao, come stai?",
		"Benvenuto nel mondo della sintesi vocale.",
	},
}

// DemoSentences cycles through canned test sentences for one locale.
type DemoSentences struct {
	sentences []string
	pos       int
}

// NewDemoSentences returns a cursor over the demo sentences of locale, falling
// back to en_US for unknown locales.
func NewDemoSentences(locale string) *DemoSentences {
	s, ok := demoSentences[locale]
	if !ok {
		s = demoSentences["en_US"]
	}
	return &DemoSentences{sentences: s, pos: -1}
}

// Next advances the cursor and returns the sentence under it, wrapping around.
func (d *DemoSentences) Next() string {
	d.pos++
	if d.pos >= len(d.sentences) {
		d.pos = 0
	}
	return d.sentences[d.pos]
}
