package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"LUCID/go-backend/internal/models"
)

func smokeCmd(o *options) *cobra.Command {
	var timestamp int
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run an end-to-end check against a running monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmoke(o.backend(), cmd.OutOrStdout(), timestamp, wait)
		},
	}
	cmd.Flags().IntVar(&timestamp, "timestamp", 30, "window to analyse")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the analysis result")
	return cmd
}

func runSmoke(b *backend, out io.Writer, timestamp int, wait time.Duration) error {
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintln(out, "LUCID - monitor smoke test against", b.base)
	fmt.Fprintln(out, strings.Repeat("=", 60))

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Health", func() error { return smokeHealth(b, out) }},
		{"WebSocket", func() error { return smokeWebSocket(b, out) }},
		{"Session", func() error { return smokeSession(b, out) }},
		{"Analyze", func() error { return smokeAnalyze(b, out, timestamp, wait) }},
		{"Timeline", func() error { return smokeTimeline(b, out) }},
	}
	for _, t := range tests {
		fmt.Fprintf(out, "\n[TEST] %s...\n", t.name)
		if err := t.fn(); err != nil {
			fmt.Fprintf(out, "✗ %s failed: %v\n", t.name, err)
			return fmt.Errorf("%s: %w", strings.ToLower(t.name), err)
		}
	}

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(out, "✓ All checks passed")
	return nil
}

func smokeHealth(b *backend, out io.Writer) error {
	var h models.HealthStatus
	if err := b.get("/api/health", &h); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ monitor %s, analysis %s, store %s\n", h.Status, upDown(h.AnalysisService), upDown(h.Store))
	if !h.AnalysisService {
		fmt.Fprintln(out, "⚠ analysis service is down, the analyze check will likely fail")
	}
	return nil
}

func smokeWebSocket(b *backend, out io.Writer) error {
	u, err := b.wsURL("")
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome struct {
		Type     string `json:"type"`
		ClientID string `json:"client_id"`
	}
	if err := conn.ReadJSON(&welcome); err != nil {
		return err
	}
	if welcome.Type != "WELCOME" {
		return fmt.Errorf("expected WELCOME, got %s", welcome.Type)
	}
	fmt.Fprintf(out, "✓ connected as %s\n", welcome.ClientID)
	return nil
}

// smokeSession makes sure a schedule exists, since only scheduled windows
// can be analysed.
func smokeSession(b *backend, out io.Writer) error {
	var p models.Progress
	if err := b.get("/api/progress", &p); err != nil {
		return err
	}
	if p.Running {
		fmt.Fprintf(out, "✓ session %s running, %d/%d windows\n", p.SessionID, p.Completed, p.Total)
		return nil
	}
	var resp struct {
		SessionID string          `json:"session_id"`
		Progress  models.Progress `json:"progress"`
	}
	if err := b.postJSON("/api/session/start", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ session %s started with %d windows\n", resp.SessionID, resp.Progress.Total)
	return nil
}

func smokeAnalyze(b *backend, out io.Writer, timestamp int, wait time.Duration) error {
	req := models.AnalyzeWindowRequest{Timestamp: fmt.Sprint(timestamp)}
	deadline := time.Now().Add(wait)
	for {
		var resp models.CachedResult
		if err := b.postJSON("/api/windows/analyze", req, &resp); err != nil {
			return err
		}
		if resp.FromCache {
			r := resp.Result
			fmt.Fprintf(out, "✓ t=%d analysed\n", timestamp)
			fmt.Fprintf(out, "  - PERCLOS: %.3f\n", r.Perclos)
			fmt.Fprintf(out, "  - Yawns: %d\n", r.YawnCount)
			fmt.Fprintf(out, "  - Pitch down: %.1f°\n", r.PitchdownAvg)
			fmt.Fprintf(out, "  - Confidence: %s @ %.0f fps\n", r.Confidence, r.FPS)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no result for t=%d after %s", timestamp, wait)
		}
		time.Sleep(time.Second)
	}
}

func smokeTimeline(b *backend, out io.Writer) error {
	var tl models.Timeline
	if err := b.get("/api/timeline", &tl); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ %d windows, %d alerts in session %s\n", len(tl.Windows), len(tl.Alerts), tl.SessionID)
	return nil
}
