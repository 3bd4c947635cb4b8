// Package prompts holds the prompt templates the tutor wraps learner input in.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Set is a complete group of prompt templates.
//
// Templates use {code}, {prompt} and {words} placeholders.
type Set struct {
	WordLimit   int    `yaml:"word_limit"`
	TutorMarker string `yaml:"tutor_marker"`
	Review      string `yaml:"review"`
	TutorPrefix string `yaml:"tutor_prefix"`
}

type promptFile struct {
	Prompts Set `yaml:"prompts"`
}

// Default returns the embedded prompt set.
func Default() Set {
	set, err := parse(defaultYAML)
	if err != nil {
		panic("prompts: invalid embedded prompts.yaml: " + err.Error())
	}
	return set
}

// Load reads a prompt file and overlays its non-empty fields on Default.
// An empty path returns Default.
func Load(path string) (Set, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompts file: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return Set{}, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	return base.merge(override), nil
}

func parse(data []byte) (Set, error) {
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Set{}, err
	}
	return file.Prompts, nil
}

func (s Set) merge(o Set) Set {
	if o.WordLimit > 0 {
		s.WordLimit = o.WordLimit
	}
	if o.TutorMarker != "" {
		s.TutorMarker = o.TutorMarker
	}
	if o.Review != "" {
		s.Review = o.Review
	}
	if o.TutorPrefix != "" {
		s.TutorPrefix = o.TutorPrefix
	}
	return s
}

// WithWordLimit returns a copy of s using n as the answer word limit.
// Non-positive values leave s unchanged.
func (s Set) WithWordLimit(n int) Set {
	if n > 0 {
		s.WordLimit = n
	}
	return s
}

// ReviewPrompt builds the one-off review request for code.
func (s Set) ReviewPrompt(code string) string {
	return s.fill(s.Review, code, "")
}

// TutorPrompt rewrites a chat message carrying the tutor marker into a prompt
// that embeds code. It reports false, returning text unchanged, for messages
// without the marker.
func (s Set) TutorPrompt(code, text string) (string, bool) {
	if s.TutorMarker == "" || !strings.HasPrefix(text, s.TutorMarker) {
		return text, false
	}
	return s.fill(s.TutorPrefix, code, text), true
}

func (s Set) fill(template, code, prompt string) string {
	r := strings.NewReplacer(
		"{code}", code,
		"{prompt}", prompt,
		"{words}", strconv.Itoa(s.WordLimit),
	)
	return r.Replace(template)
}
