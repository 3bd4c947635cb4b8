package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReviewPrompt(t *testing.T) {
	got := Default().ReviewPrompt("print(1)")
	want := "Given the original code: ```print(1)```, please check if the code is correct and provide suggestions for improvement if needed. Limit your answer to 100 words."
	if got != want {
		t.Errorf("ReviewPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestTutorPrompt(t *testing.T) {
	set := Default()

	got, ok := set.TutorPrompt("x = 1", "[tutor] why?")
	if !ok {
		t.Fatal("marker not detected")
	}
	want := "Given the code: ```x = 1```, [tutor] why?. Limit your answer in text only and 100 words."
	if got != want {
		t.Errorf("TutorPrompt() =\n%q\nwant\n%q", got, want)
	}

	plain, ok := set.TutorPrompt("x = 1", "why [tutor]?")
	if ok || plain != "why [tutor]?" {
		t.Errorf("plain message rewritten: %q %v", plain, ok)
	}
}

func TestFillDoesNotExpandPlaceholdersInCode(t *testing.T) {
	got := Default().ReviewPrompt(`print("{words}")`)
	if !strings.Contains(got, `print("{words}")`) {
		t.Errorf("code placeholder was expanded: %q", got)
	}
}

func TestWithWordLimit(t *testing.T) {
	set := Default().WithWordLimit(50)
	if !strings.HasSuffix(set.ReviewPrompt("x"), "50 words.") {
		t.Errorf("word limit not applied: %q", set.ReviewPrompt("x"))
	}
	if Default().WithWordLimit(0).WordLimit != 100 {
		t.Error("zero limit should be ignored")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	data := "prompts:\n  tutor_marker: \"/ask\"\n  word_limit: 30\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.TutorMarker != "/ask" || set.WordLimit != 30 {
		t.Errorf("overrides not applied: %+v", set)
	}
	if set.Review != Default().Review {
		t.Error("review template should come from the default set")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
