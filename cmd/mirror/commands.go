package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/legitHacker23/SmartMirror/internal/bus"
	"github.com/legitHacker23/SmartMirror/internal/config"
	"github.com/legitHacker23/SmartMirror/internal/conversation"
	"github.com/legitHacker23/SmartMirror/internal/display"
	"github.com/legitHacker23/SmartMirror/internal/speech"
	"github.com/legitHacker23/SmartMirror/internal/stt"
	"github.com/legitHacker23/SmartMirror/internal/tts"
	"github.com/legitHacker23/SmartMirror/internal/usage"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RUN COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Listen for the wake phrase and answer spoken questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := newServices(ctx, cfg)
			defer svc.Close()

			events := bus.NewEventBus(log.Component("bus"))
			defer events.Close()

			var hub *display.Hub
			if cfg.Display.Enabled {
				hub = display.NewHub(log.Component("display"), events, cfg.Display.Addr)
				hub.Player().SetTimeout(cfg.Display.PlaybackTimeout)
				if err := hub.Start(ctx); err != nil {
					return err
				}
			}

			player, err := newPlayer(hub)
			if err != nil {
				return err
			}
			speaker := newSpeaker(cfg, player)
			checkSpeechServer(ctx, speaker)

			recognizer := stt.NewWebSocketRecognizer(log.Component("stt"), &stt.WebSocketConfig{
				Endpoint: cfg.STT.Endpoint,
				Language: cfg.STT.Language,
				APIKey:   cfg.STT.APIKey,
			})

			engine := conversation.NewEngine(conversationConfig(cfg.Conversation), conversation.Deps{
				Recognizer: recognizer,
				Responder:  svc.responder,
				Voice:      speech.NewController(speaker, cfg.TTS.SpeakerID, log.Zerolog()),
				Bus:        events,
			}, log.Zerolog())

			if hub != nil {
				hub.OnGesture(engine.Gesture)
				hub.OnReset(engine.Reset)
			}

			svc.scheduler.Start(ctx)
			go svc.scheduler.Prewarm()

			fmt.Fprintf(out, "Mirror is listening. Say %q followed by your question. Ctrl+C to quit.\n", cfg.Conversation.WakePhrase)
			return engine.Run(ctx)
		},
	}
}

func newPlayer(hub *display.Hub) (tts.Player, error) {
	switch cfg.TTS.Player {
	case "display":
		if hub == nil {
			return nil, errors.New("tts.player is display but the display hub is disabled")
		}
		return hub.Player(), nil
	default:
		return tts.NewCommandPlayer(cfg.TTS.Command)
	}
}

func checkSpeechServer(ctx context.Context, speaker *tts.ServerSpeaker) {
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	l := log.Component("tts")
	h, err := speaker.Health(hctx)
	if err != nil {
		l.Warn().Err(err).Str("url", cfg.TTS.ServerURL).Msg("Speech server unreachable, replies will be shown but not spoken")
		return
	}
	l.Info().Str("status", h.Status).Str("model", h.Model).Bool("initialized", h.Initialized).Msg("Speech server ready")
}

func conversationConfig(c config.ConversationConfig) conversation.Config {
	out := conversation.DefaultConfig()
	out.WakePhrase = c.WakePhrase
	out.InactivityDelay = c.InactivityDelay
	out.WakeIdleDelay = c.WakeIdleDelay
	out.RestartDelay = c.RestartDelay
	out.ResetDelay = c.ResetDelay
	out.RetryDelay = c.RetryDelay
	out.BackoffCap = c.BackoffCap
	out.MaxStartAttempts = c.MaxStartAttempts
	out.SpeechGuard = c.SpeechGuard
	out.GestureNoticeGuard = c.GestureNoticeGuard
	out.ErrorGuard = c.ErrorGuard
	out.TurnTimeout = c.TurnTimeout
	if c.FallbackReply != "" {
		out.FallbackReply = c.FallbackReply
	}
	if c.GestureNotice != "" {
		out.GestureNotice = c.GestureNotice
	}
	if c.UnsupportedNotice != "" {
		out.UnsupportedNotice = c.UnsupportedNotice
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// ASK COMMAND (typed mode)
// ═══════════════════════════════════════════════════════════════════════════════

func askCmd() *cobra.Command {
	var speak bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question by typing instead of speaking",
		Long: `Ask a question and print the reply. Live context is gathered exactly
as for a spoken question.

Examples:
  mirror ask what's the weather today
  mirror ask "what's on my calendar" --speak`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			question := strings.ToLower(strings.Join(args, " "))

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Conversation.TurnTimeout)
			defer cancel()

			svc := newServices(ctx, cfg)
			defer svc.Close()

			start := time.Now()
			reply, degraded := svc.responder.Respond(ctx, question)
			fmt.Fprintln(out, reply)

			outcome := usage.OutcomeAnswered
			if degraded {
				outcome = usage.OutcomeFallback
			}
			if speak {
				player, err := tts.NewCommandPlayer(cfg.TTS.Command)
				if err != nil {
					return err
				}
				if err := newSpeaker(cfg, player).Speak(ctx, reply, cfg.TTS.SpeakerID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not speak the reply: %v\n", err)
					outcome = usage.OutcomeSilent
				}
			}

			svc.responder.Record(context.WithoutCancel(ctx), usage.Turn{
				Utterance: question,
				Reply:     reply,
				Outcome:   outcome,
				Duration:  time.Since(start),
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&speak, "speak", false, "also speak the reply")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// USAGE AND HISTORY COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func openUsage() (*usage.Store, error) {
	store, err := usage.Open(cfg.Usage.DBPath, cfg.Usage.DailyLimit, cfg.Location(), log.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	return store, nil
}

func usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show today's language model usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := openUsage()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Language Model Usage")
			fmt.Fprintln(out, "────────────────────")
			fmt.Fprintf(out, "Date:      %s\n", stats.Date)
			fmt.Fprintf(out, "Requests:  %d / %d (%.1f%%)\n", stats.Count, stats.Limit, stats.Percent)
			fmt.Fprintf(out, "Remaining: %d\n", stats.Remaining)
			if stats.OverLimit() {
				fmt.Fprintln(out, "Daily limit exceeded.")
			}
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversation turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := openUsage()
			if err != nil {
				return err
			}
			defer store.Close()

			turns, err := store.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(turns) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}

			loc := cfg.Location()
			for _, t := range turns {
				fmt.Fprintf(out, "%s  [%s, %s]\n", t.CreatedAt.In(loc).Format("2006-01-02 15:04"), t.Outcome, t.Duration.Round(100*time.Millisecond))
				fmt.Fprintf(out, "  Q: %s\n", t.Utterance)
				fmt.Fprintf(out, "  A: %s\n\n", t.Reply)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of turns to show")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// VOICES COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the speech server's voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			voices, err := newSpeaker(cfg, nil).Voices(ctx)
			if err != nil {
				return fmt.Errorf("list voices: %w", err)
			}
			for _, v := range voices.Speakers {
				marker := " "
				if v == voices.Current {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, v)
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := configPath()
			if !force {
				if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
					fmt.Fprintf(out, "Config already present in %s (use --force to overwrite)\n", dir)
					return nil
				}
			}
			if err := config.Save(config.DefaultConfig(), dir); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %s\n", filepath.Join(dir, "config.yaml"))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			yml, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(out, yml)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	})

	return cmd
}
