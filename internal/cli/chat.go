package cli

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

	"ongoal/internal/display"
	"ongoal/internal/events"
	"ongoal/internal/goal"
	"ongoal/internal/listener"
	"ongoal/internal/logger"
	"ongoal/internal/metrics"
)

var (
	conversationID string
	showMetrics    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal while goals are tracked",
	RunE: func(cmd *cobra.Command, args []string) error {
		history := filepath.Join(os.TempDir(), "ongoal_history")
		if err := listener.Init("> ", history); err != nil {
			return fmt.Errorf("failed to init terminal input: %w", err)
		}
		defer listener.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		var onRun func(metrics.RunMetrics)
		if showMetrics {
			onRun = func(rm metrics.RunMetrics) { listener.AsyncPrintln(display.FormatRunMetrics(&rm)) }
		}
		sup := newSupervisor(cfg, onRun)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sup.Shutdown(shutdownCtx); err != nil {
				logger.Log.Warnw("shutdown", "error", err)
			}
		}()

		sess := sup.GetOrCreate(conversationID)
		go printEvents(sess.Orchestrator.Subscribe())

		cmdr := &commander{sup: sup, convID: sess.ID, confirm: listener.AskYesNo}
		listener.SetPrompt(promptFor(sess.ID, sess.Conversation.Settings()))
		listener.AsyncPrintln(fmt.Sprintf("Hello! Conversation %s. Type /help for commands or /exit to quit.", sess.ID))

		for ctx.Err() == nil {
			input, err := listener.GetInput()
			if errors.Is(err, listener.ErrClosed) {
				break
			}
			if err != nil {
				return err
			}
			if input == "" {
				continue
			}
			if strings.HasPrefix(input, "/") {
				out, err := cmdr.run(input)
				if errors.Is(err, errQuit) {
					break
				}
				if err != nil {
					listener.AsyncPrintln(fmt.Sprintf("[Command FAILED] %v", err))
					continue
				}
				listener.AsyncPrintln(out)
				listener.SetPrompt(promptFor(sess.ID, sess.Conversation.Settings()))
				continue
			}

			turnCtx, cancel := context.WithTimeout(ctx, 4*cfg.LLM.Timeout)
			res, err := sup.Turn(turnCtx, sess.ID, input)
			cancel()
			if err != nil {
				listener.AsyncPrintln(fmt.Sprintf("[Turn FAILED] %v", err))
				continue
			}
			logger.Log.Infow("turn finished", "conversation_id", sess.ID, "duration_ms", res.Duration.Milliseconds(), "goals", len(res.Goals))
			listener.AsyncPrintln(display.FormatGoals(res.Goals))
		}
		fmt.Println("Goodbye!")
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&conversationID, "conversation", "cli", "conversation id")
	chatCmd.Flags().BoolVar(&showMetrics, "metrics", false, "print stage timings after each run")
	rootCmd.Flags().AddFlagSet(chatCmd.Flags())
}

// printEvents echoes pipeline events above the prompt until the
// subscription closes.
func printEvents(sub *events.Subscription) {
	for ev := range sub.C {
		switch d := ev.Data.(type) {
		case events.ResponseComplete:
			if d.FullText != "" {
				listener.AsyncPrintln("Assistant: " + d.FullText)
			}
		default:
			if ev.Type == events.TypeConversationState {
				continue
			}
			listener.AsyncPrintln(display.FormatEvent(ev))
		}
	}
}

// promptFor names the conversation and any stage that is switched off.
func promptFor(id string, s goal.Settings) string {
	var off []string
	for _, st := range []goal.Stage{goal.StageInfer, goal.StageMerge, goal.StageEvaluate} {
		if !s.Enabled(st) {
			off = append(off, "-"+string(st))
		}
	}
	if len(off) == 0 {
		return fmt.Sprintf("[%s] > ", id)
	}
	return fmt.Sprintf("[%s %s] > ", id, strings.Join(off, " "))
}
