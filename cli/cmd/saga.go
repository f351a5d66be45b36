package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"abbey/cli/style"
	"abbey/saga"
)

var (
	sagaApp   string
	sagaLimit int
	sagaPlain bool
)

func init() {
	sagaCmd.Flags().StringVar(&sagaApp, "app", "", "filter by app (ENVIRONMENT-DEPLOYMENT-PLAY)")
	sagaCmd.Flags().IntVar(&sagaLimit, "limit", 30, "number of events")
	sagaCmd.Flags().BoolVar(&sagaPlain, "plain", false, "uncolored output, one line per event")
	rootCmd.AddCommand(sagaCmd)
}

var sagaCmd = &cobra.Command{
	Use:   "saga [saga-id]",
	Short: "View the bake event log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("ABBEY_DATABASE_URL is not set")
		}
		ctx := cmd.Context()
		store, err := saga.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			sagaID := args[0]
			events, err := store.ListBySaga(ctx, sagaID)
			if err != nil {
				return fmt.Errorf("fetch saga events: %w", err)
			}
			if sagaPlain {
				fmt.Fprint(out, saga.PlainFormatter{}.Format(events))
				return nil
			}
			fmt.Fprintln(out, style.Title.Render("saga "+shortID(sagaID)))
			fmt.Fprintln(out)
			printSagaEvents(cmd, events, false)
			return nil
		}

		var events []saga.Event
		if sagaApp != "" {
			events, err = store.ListByApp(ctx, sagaApp, sagaLimit)
		} else {
			events, err = store.ListRecent(ctx, sagaLimit)
		}
		if err != nil {
			return fmt.Errorf("fetch saga events: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, style.DimText.Render("no saga events"))
			return nil
		}
		if sagaPlain {
			fmt.Fprint(out, saga.PlainFormatter{}.Format(events))
			return nil
		}

		title := "recent bake events"
		if sagaApp != "" {
			title = "bake events for " + sagaApp
		}
		fmt.Fprintln(out, style.Title.Render(title))
		fmt.Fprintln(out)
		printSagaEvents(cmd, events, true)
		return nil
	},
}

func printSagaEvents(cmd *cobra.Command, events []saga.Event, withApp bool) {
	out := cmd.OutOrStdout()
	for _, evt := range events {
		ts := style.DimText.Render(evt.Timestamp.Format("15:04:05"))
		icon := actionIcon(evt.Action)
		msg := evt.Message
		if d, ok := saga.Elapsed(evt); ok {
			msg += " " + style.DimText.Render(d.String())
		}
		if withApp {
			app := style.DimText.Render(fmt.Sprintf("[%s]", evt.App))
			fmt.Fprintf(out, "  %s %s %s %s\n", ts, app, icon, msg)
			continue
		}
		fmt.Fprintf(out, "  %s %s %s\n", ts, icon, msg)
	}
}

func actionIcon(action string) string {
	glyph := saga.ActionIcon(action)
	switch action {
	case saga.ActionStepStart, saga.ActionBakeStart:
		return style.StepRunning.Render(glyph)
	case saga.ActionStepComplete:
		return style.StepDone.Render(glyph)
	case saga.ActionStepFailed:
		return style.StepFailed.Render(glyph)
	case saga.ActionBakeComplete:
		return style.Healthy.Render(glyph)
	case saga.ActionBakeFailed, saga.ActionTagFailed:
		return style.Unhealthy.Render(glyph)
	default:
		return style.DimText.Render(glyph)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
