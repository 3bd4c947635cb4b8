// Package main provides tutorctl, a terminal client for the tutor.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/learnitall/internal/lesson"
	"github.com/ashureev/learnitall/internal/ollama"
	"github.com/ashureev/learnitall/internal/prompts"
	"github.com/ashureev/learnitall/internal/store"
	"github.com/ashureev/learnitall/internal/tutor"
)

var (
	ollamaURL   string
	lessonFile  string
	promptsFile string
	verbose     bool

	chatModel string

	replayDelay time.Duration

	transcriptDB    string
	transcriptLimit int
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tutorctl",
		Short:        "Terminal client for the LearnItAll coding tutor",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&ollamaURL, "ollama-url", envOr("OLLAMA_BASE_URL", ollama.DefaultBaseURL), "Ollama base URL")
	rootCmd.PersistentFlags().StringVar(&lessonFile, "lesson", os.Getenv("LESSON_FILE"), "lesson TOML file (default: built-in lesson)")
	rootCmd.PersistentFlags().StringVar(&promptsFile, "prompts", os.Getenv("PROMPTS_FILE"), "prompts YAML file (default: built-in prompts)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newTranscriptCmd())

	return rootCmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List locally installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := newClient().ListModels(cmd.Context())
			if err != nil {
				return err
			}
			if len(models) == 0 {
				printWarn(cmd.OutOrStdout(), "no models installed; pull one with `ollama pull <model>`")
				return nil
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor and get code reviews",
		Args:  cobra.NoArgs,
		RunE:  runChatCmd,
	}
	cmd.Flags().StringVarP(&chatModel, "model", "m", os.Getenv("DEFAULT_MODEL"), "model to use (default: first installed)")
	return cmd
}

func runChatCmd(cmd *cobra.Command, _ []string) error {
	content, set, err := loadContent()
	if err != nil {
		return err
	}
	session, err := tutor.NewSession(newClient(), tutor.Options{
		Mode:         tutor.ModeChat,
		Exercises:    content.Exercises,
		Prompts:      set,
		DefaultModel: chatModel,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Models(cmd.Context()); err != nil {
		return fmt.Errorf("model backend at %s: %w", ollamaURL, err)
	}

	out := cmd.OutOrStdout()
	t := newTerminal(out)
	t.Banner(content.Title, "Commands: :code, :prev, :next, :review, :model <name>, :reset, :quit")
	t.Exercise(session.View().Exercise)

	return chatLoop(cmd.Context(), session, t, cmd.InOrStdin())
}

func chatLoop(ctx context.Context, session *tutor.Session, t *terminal, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		t.Prompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		c := parseCommand(scanner.Text())
		switch c.name {
		case "":
			continue
		case "quit":
			return nil
		case "prev", "next":
			move := session.NextExercise
			if c.name == "prev" {
				move = session.PreviousExercise
			}
			if _, err := move(); err != nil {
				t.Error(err)
				continue
			}
			t.Exercise(session.View().Exercise)
		case "code":
			code, err := readCode(scanner)
			if err != nil {
				return err
			}
			session.SubmitCode(code)
			t.Info("code saved")
		case "model":
			if err := session.SelectModel(ctx, c.arg); err != nil {
				t.Error(err)
				continue
			}
			t.Info("using " + c.arg)
		case "reset":
			session.Reset()
			t.Info("session reset")
			t.Exercise(session.View().Exercise)
		case "review", "chat":
			// Ctrl-C interrupts the answer without leaving the chat.
			sctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			if c.name == "review" {
				t.Stream(session.RequestReview(sctx, t.Chunk))
			} else {
				t.Stream(session.SendChat(sctx, c.arg, t.Chunk))
			}
			stop()
		default:
			t.Error(fmt.Errorf("unknown command :%s", c.name))
		}
	}
}

// readCode reads lines until a line containing only a single dot.
func readCode(scanner *bufio.Scanner) (string, error) {
	var b strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play back the scripted lesson dialogue",
		Args:  cobra.NoArgs,
		RunE:  runReplayCmd,
	}
	cmd.Flags().DurationVar(&replayDelay, "delay", 3*time.Second, "pause between dialogue lines")
	return cmd
}

func runReplayCmd(cmd *cobra.Command, _ []string) error {
	content, set, err := loadContent()
	if err != nil {
		return err
	}
	t := newTerminal(cmd.OutOrStdout())
	session, err := tutor.NewSession(nil, tutor.Options{
		Mode:          tutor.ModeScripted,
		Script:        content.Script,
		Exercises:     content.Exercises,
		Prompts:       set,
		PlaybackDelay: replayDelay,
		Renderer:      t,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	t.Banner(content.Title, "")
	for {
		advanced, err := session.Tick(ctx)
		if err != nil {
			return err
		}
		if !advanced || ctx.Err() != nil {
			return nil
		}
	}
}

func newTranscriptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript [session-id]",
		Short: "List journaled sessions, or print one session's transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTranscriptCmd,
	}
	cmd.Flags().StringVar(&transcriptDB, "db", envOr("DB_PATH", "./data/transcripts.db"), "transcript database path")
	cmd.Flags().IntVar(&transcriptLimit, "limit", 20, "maximum sessions or entries to show (0 = all)")
	return cmd
}

func runTranscriptCmd(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(transcriptDB); err != nil {
		return fmt.Errorf("open transcript database: %w", err)
	}
	repo, err := store.NewSQLite(transcriptDB)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			slog.Warn("Failed to close database", "error", cerr)
		}
	}()

	t := newTerminal(cmd.OutOrStdout())
	if len(args) == 0 {
		sessions, err := repo.ListSessions(cmd.Context(), transcriptLimit)
		if err != nil {
			return err
		}
		t.Sessions(sessions)
		return nil
	}

	entries, err := repo.ListEntries(cmd.Context(), args[0], transcriptLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("no entries for session " + args[0])
	}
	t.Entries(entries)
	return nil
}

func newClient() *ollama.Client {
	return ollama.NewClient(ollama.Config{BaseURL: ollamaURL, APIKey: envOr("OLLAMA_API_KEY", ollama.DefaultAPIKey)}, nil)
}

func loadContent() (lesson.Lesson, prompts.Set, error) {
	content, err := lesson.Load(lessonFile)
	if err != nil {
		return lesson.Lesson{}, prompts.Set{}, err
	}
	set, err := prompts.Load(promptsFile)
	if err != nil {
		return lesson.Lesson{}, prompts.Set{}, err
	}
	return content, set, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
