package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"abbey/cli/style"
	"abbey/event"
	"abbey/report"
)

var (
	watchAddr  string
	watchToken string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running bake from another terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return watch(cmd.OutOrStdout(), "ws://"+watchAddr+"/ws", watchToken)
	},
}

func init() {
	addr := cfg.ListenAddr
	if addr == "" {
		addr = "localhost:8900"
	}
	watchCmd.Flags().StringVar(&watchAddr, "addr", addr, "address the bake is listening on")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "watch token printed by the bake")
	rootCmd.AddCommand(watchCmd)
}

type wsEvent struct {
	Type    string          `json:"type"`
	RunID   string          `json:"runId"`
	Payload json.RawMessage `json:"payload"`
}

func watch(out io.Writer, url, token string) error {
	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer conn.Close()

	rep := report.New(out, false)
	for {
		// Remote runs can be quiet for a long time between tasks.
		conn.SetReadDeadline(time.Now().Add(30 * time.Minute))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}

		var evt wsEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		if done, err := renderWatchEvent(out, rep, evt); done {
			return err
		}
	}
}

// renderWatchEvent prints one hub message and reports whether the bake has
// ended.
func renderWatchEvent(out io.Writer, rep *report.Reporter, evt wsEvent) (bool, error) {
	switch evt.Type {
	case "bake.event":
		var e event.Event
		if err := json.Unmarshal(evt.Payload, &e); err == nil {
			rep.Handle(e)
		}
	case "bake.stage":
		var p map[string]string
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return false, nil
		}
		rep.Close()
		icon, s := stageStatusStyle(p["status"])
		fmt.Fprintf(out, "  %s %s %s\n", s.Render(icon), p["stage"], style.DimText.Render(p["status"]))
	case "bake.completed":
		var p map[string]string
		json.Unmarshal(evt.Payload, &p)
		rep.Close()
		fmt.Fprintln(out)
		fmt.Fprintln(out, style.SuccessBox.Render("baked "+p["imageId"]))
		return true, nil
	case "bake.failed":
		var p map[string]string
		json.Unmarshal(evt.Payload, &p)
		rep.Close()
		fmt.Fprintln(out)
		fmt.Fprintln(out, style.ErrorBox.Render("failed: "+p["error"]))
		return true, fmt.Errorf("bake failed at %s", p["stage"])
	}
	return false, nil
}

func stageStatusStyle(status string) (string, lipgloss.Style) {
	switch status {
	case "running":
		return "▶", style.StepRunning
	case "complete":
		return "✓", style.StepDone
	case "failed":
		return "✗", style.StepFailed
	}
	return "·", style.DimText
}
