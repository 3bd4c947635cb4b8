package domain

import "fmt"

// DefaultCodeLang is the fence language used when a script turn does not name one.
const DefaultCodeLang = "python"

// Turn is one side of a script pair: some text and an optional code block.
type Turn struct {
	Text string `json:"text" toml:"text"`
	Code string `json:"code,omitempty" toml:"code"`
	Lang string `json:"lang,omitempty" toml:"lang"`
}

// HasCode returns true if the turn carries a code block.
func (t Turn) HasCode() bool {
	return t.Code != ""
}

// Language returns the code fence language for the turn.
func (t Turn) Language() string {
	if t.Lang == "" {
		return DefaultCodeLang
	}
	return t.Lang
}

// CodeBlock renders the turn's code as a fenced Markdown block.
func (t Turn) CodeBlock() string {
	return fmt.Sprintf("```%s\n%s\n```", t.Language(), t.Code)
}

// ScriptEntry is one (prompt, answer) pair of the scripted dialogue.
type ScriptEntry struct {
	Prompt Turn `json:"prompt" toml:"prompt"`
	Answer Turn `json:"answer" toml:"answer"`
}

// Exercise is a playground problem the learner works on.
type Exercise struct {
	ID    string `json:"id" toml:"id"`
	Title string `json:"title" toml:"title"`
	Code  string `json:"code" toml:"code"`
}
