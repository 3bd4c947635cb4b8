// Package lesson loads the scripted dialogue and the playground exercises.
package lesson

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ashureev/learnitall/internal/domain"
)

//go:embed lesson.toml
var defaultTOML string

// Lesson is a complete set of tutoring content.
type Lesson struct {
	Title     string               `toml:"title"`
	Script    []domain.ScriptEntry `toml:"script"`
	Exercises []domain.Exercise    `toml:"exercises"`
}

// Default returns the built-in lesson.
func Default() Lesson {
	var l Lesson
	if _, err := toml.Decode(defaultTOML, &l); err != nil {
		panic("lesson: invalid embedded lesson.toml: " + err.Error())
	}
	l.normalize()
	return l
}

// Load reads a lesson from a TOML file. An empty path returns Default.
// Sections missing from the file fall back to the built-in ones.
func Load(path string) (Lesson, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	if _, err := os.Stat(path); err != nil {
		return Lesson{}, fmt.Errorf("failed to stat lesson file: %w", err)
	}

	var l Lesson
	md, err := toml.DecodeFile(path, &l)
	if err != nil {
		return Lesson{}, fmt.Errorf("failed to decode lesson: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Lesson{}, fmt.Errorf("unknown lesson keys: %v", undecoded)
	}

	if l.Title == "" {
		l.Title = base.Title
	}
	if len(l.Script) == 0 {
		l.Script = base.Script
	}
	if len(l.Exercises) == 0 {
		l.Exercises = base.Exercises
	}
	l.normalize()
	if err := l.Validate(); err != nil {
		return Lesson{}, fmt.Errorf("invalid lesson %s: %w", path, err)
	}
	return l, nil
}

// Validate checks that the lesson can drive a session.
func (l Lesson) Validate() error {
	var errs []error
	if len(l.Exercises) == 0 {
		errs = append(errs, errors.New("at least one exercise is required"))
	}
	seen := make(map[string]bool, len(l.Exercises))
	for i, ex := range l.Exercises {
		switch {
		case ex.ID == "":
			errs = append(errs, fmt.Errorf("exercise %d: id is required", i))
		case seen[ex.ID]:
			errs = append(errs, fmt.Errorf("exercise %d: duplicate id %q", i, ex.ID))
		}
		seen[ex.ID] = true
		if strings.TrimSpace(ex.Code) == "" {
			errs = append(errs, fmt.Errorf("exercise %q: code is required", ex.ID))
		}
	}
	for i, entry := range l.Script {
		if entry.Prompt.Text == "" && !entry.Prompt.HasCode() {
			errs = append(errs, fmt.Errorf("script entry %d: prompt is empty", i))
		}
		if entry.Answer.Text == "" && !entry.Answer.HasCode() {
			errs = append(errs, fmt.Errorf("script entry %d: answer is empty", i))
		}
	}
	return errors.Join(errs...)
}

func (l *Lesson) normalize() {
	for i := range l.Exercises {
		l.Exercises[i].Code = strings.TrimRight(l.Exercises[i].Code, "\n") + "\n"
	}
}
