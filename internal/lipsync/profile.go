package lipsync

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile tells a sequencer which visemes a rig exposes and which viseme each
// phoneme symbol drives.
type Profile struct {
	Visemes  []string          `yaml:"visemes"`
	Silence  string            `yaml:"silence"`
	Phonemes map[string]string `yaml:"phonemes"`
}

// Oculus viseme morph target names, as exported by most glTF avatar tools.
const (
	VisemeSil = "viseme_sil"
	VisemePP  = "viseme_PP" // p, b, m
	VisemeFF  = "viseme_FF" // f, v
	VisemeTH  = "viseme_TH" // th (dental)
	VisemeDD  = "viseme_DD" // t, d
	VisemeKK  = "viseme_kk" // k, g
	VisemeCH  = "viseme_CH" // ch, j, sh
	VisemeSS  = "viseme_SS" // s, z
	VisemeNN  = "viseme_nn" // n, l
	VisemeRR  = "viseme_RR" // r
	VisemeAA  = "viseme_aa" // a (father)
	VisemeE   = "viseme_E"  // e (bed)
	VisemeI   = "viseme_I"  // i (sit)
	VisemeO   = "viseme_O"  // o (go)
	VisemeU   = "viseme_U"  // u (boot)
)

// DefaultProfile maps MaryTTS SAMPA symbols (en_US, en_GB, de, fr, it voices)
// onto the 15 Oculus visemes.
func DefaultProfile() *Profile {
	return &Profile{
		Visemes: []string{
			VisemeSil, VisemePP, VisemeFF, VisemeTH, VisemeDD,
			VisemeKK, VisemeCH, VisemeSS, VisemeNN, VisemeRR,
			VisemeAA, VisemeE, VisemeI, VisemeO, VisemeU,
		},
		Silence: VisemeSil,
		Phonemes: map[string]string{
			"_": VisemeSil, "?": VisemeSil,

			// Bilabials
			"p": VisemePP, "b": VisemePP, "m": VisemePP,

			// Labiodentals
			"f": VisemeFF, "v": VisemeFF,

			// Dentals
			"T": VisemeTH, "D": VisemeTH,

			// Alveolar stops
			"t": VisemeDD, "d": VisemeDD,

			// Velars
			"k": VisemeKK, "g": VisemeKK, "N": VisemeKK, "x": VisemeKK,

			// Postalveolars and affricates
			"S": VisemeCH, "Z": VisemeCH, "tS": VisemeCH, "dZ": VisemeCH,

			// Sibilants
			"s": VisemeSS, "z": VisemeSS,

			// Nasals and laterals
			"n": VisemeNN, "l": VisemeNN, "J": VisemeNN, "L": VisemeNN,

			// Rhotics
			"r": VisemeRR, "r=": VisemeRR, "R": VisemeRR,

			// Open vowels and diphthongs starting open
			"A": VisemeAA, "{": VisemeAA, "V": VisemeAA, "@": VisemeAA,
			"a": VisemeAA, "aI": VisemeAA, "aU": VisemeAA, "h": VisemeAA,

			// Mid front vowels
			"E": VisemeE, "EI": VisemeE, "e": VisemeE, "e~": VisemeE, "9": VisemeE,

			// Close front vowels and glides
			"I": VisemeI, "i": VisemeI, "j": VisemeI, "Y": VisemeI,

			// Back rounded vowels
			"O": VisemeO, "OI": VisemeO, "@U": VisemeO, "o": VisemeO, "o~": VisemeO, "2": VisemeO,

			// Close rounded vowels and labial glide
			"U": VisemeU, "u": VisemeU, "w": VisemeU, "y": VisemeU, "H": VisemeU,
		},
	}
}

// LoadProfile reads a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks that viseme names are unique and that every phoneme and the
// silence viseme refer to a listed viseme.
func (p *Profile) Validate() error {
	if len(p.Visemes) == 0 {
		return errors.New("no visemes")
	}

	seen := make(map[string]bool, len(p.Visemes))
	for _, v := range p.Visemes {
		if v == "" {
			return errors.New("empty viseme name")
		}
		if seen[v] {
			return fmt.Errorf("duplicate viseme %q", v)
		}
		seen[v] = true
	}

	if p.Silence != "" && !seen[p.Silence] {
		return fmt.Errorf("silence viseme %q is not listed", p.Silence)
	}
	for ph, v := range p.Phonemes {
		if !seen[v] {
			return fmt.Errorf("phoneme %q maps to unknown viseme %q", ph, v)
		}
	}
	return nil
}
