package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"LUCID/go-backend/internal/handlers"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/scheduler"
)

func statusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show health and session progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := o.backend()
			var health models.HealthStatus
			if err := b.get("/api/health", &health); err != nil {
				return err
			}
			var p models.Progress
			if err := b.get("/api/progress", &p); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "monitor:   %s (v%s, up %ds)\n", health.Status, health.Version, health.UptimeSeconds)
			fmt.Fprintf(out, "analysis:  %s\n", upDown(health.AnalysisService))
			fmt.Fprintf(out, "store:     %s\n", upDown(health.Store))
			fmt.Fprintf(out, "clients:   %d\n", health.ActiveClients)
			fmt.Fprintf(out, "session:   %s\n", p.SessionID)
			state := "stopped"
			if p.Running {
				state = "running"
			}
			fmt.Fprintf(out, "progress:  %s %d/%d (%s, %d failed, elapsed %s)\n",
				progressBar(p.Completed, p.Total, 20), p.Completed, p.Total, state, p.Failed, clock(p.ElapsedSeconds))
			for _, c := range p.Pending {
				fmt.Fprintf(out, "  t=%-5d %-10s attempts=%d\n", c.Timestamp, c.Status, c.Attempts)
			}
			return nil
		},
	}
}

func upDown(ok bool) string {
	if ok {
		return okStyle.Render("up")
	}
	return asleepStyle.Render("down")
}

func startCmd(o *options) *cobra.Command {
	var duration float64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a monitoring session",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.StartSessionRequest{}
			if cmd.Flags().Changed("duration") {
				req.VideoDuration = &duration
			}
			var resp struct {
				SessionID     string          `json:"session_id"`
				VideoDuration float64         `json:"video_duration"`
				Progress      models.Progress `json:"progress"`
			}
			if err := o.backend().postJSON("/api/session/start", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s started: %d windows over %.0fs\n",
				resp.SessionID, resp.Progress.Total, resp.VideoDuration)
			return nil
		},
	}
	cmd.Flags().Float64Var(&duration, "duration", 0, "video duration in seconds (default: ask the analysis service)")
	return cmd
}

func resetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the session and clear stored rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res scheduler.ResetResult
			if err := o.backend().postJSON("/api/session/reset", nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s -> %s, %d rows cleared\n",
				res.PreviousSessionID, res.SessionID, res.RowsCleared)
			return nil
		},
	}
}

func analyzeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze TIMESTAMP",
		Short: "Request analysis of one window (seconds or MM:SS)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := handlers.ParseTimestamp(args[0])
			if err != nil {
				return err
			}
			var resp map[string]interface{}
			if err := o.backend().postJSON("/api/windows/analyze", models.AnalyzeWindowRequest{Timestamp: strconv.Itoa(ts)}, &resp); err != nil {
				return err
			}
			if cached, ok := resp["from_cache"].(bool); ok && cached {
				fmt.Fprintf(cmd.OutOrStdout(), "t=%d already analysed\n", ts)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "t=%d %v\n", ts, resp["status"])
			return nil
		},
	}
}

func timelineCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Show classified windows of the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tl models.Timeline
			if err := o.backend().get("/api/timeline", &tl); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("session %s, %ds windows", tl.SessionID, tl.Interval)))
			for _, w := range tl.Windows {
				line := fmt.Sprintf("%s  %s  risk %3d  %s", clock(w.Timestamp), stateLabel(w.State.State), w.RiskScore, w.State.Reason)
				if w.State.Dimmed {
					line = dimStyle.Render(line + " (low confidence)")
				}
				fmt.Fprintln(out, line)
			}
			if len(tl.Windows) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no windows analysed yet"))
			}
			return nil
		},
	}
}

func alertsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List drowsiness alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Alerts []models.Alert `json:"alerts"`
			}
			if err := o.backend().get("/api/alerts", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range resp.Alerts {
				fmt.Fprintf(out, "%s  %s  %s\n", a.TimeInterval, stateLabel(a.Status), a.Reason)
			}
			if len(resp.Alerts) == 0 {
				fmt.Fprintln(out, okStyle.Render("no alerts"))
			}
			return nil
		},
	}
}

func measurementsCmd(o *options) *cobra.Command {
	var sessionID, driverID string
	var limit int
	cmd := &cobra.Command{
		Use:   "measurements",
		Short: "Query stored windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			if driverID != "" {
				q.Set("driver_id", driverID)
			}
			q.Set("limit", strconv.Itoa(limit))
			var resp struct {
				Measurements []models.WindowRecord `json:"measurements"`
			}
			if err := o.backend().get("/api/measurements?"+q.Encode(), &resp); err != nil {
				return err
			}
			for _, m := range resp.Measurements {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  t=%-5d perclos=%.2f yawns=%d %s\n",
					m.CreatedAt.Format("2006-01-02 15:04:05"), m.SessionID, m.Timestamp, m.Perclos, m.YawnCount, stateLabel(m.State))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&driverID, "driver", "", "filter by driver id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func historyCmd(o *options) *cobra.Command {
	var sessionID string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the status log of a session, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			q.Set("limit", strconv.Itoa(limit))
			var resp struct {
				SessionID string                `json:"session_id"`
				Statuses  []models.StatusRecord `json:"statuses"`
			}
			if err := o.backend().get("/api/status?"+q.Encode(), &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("session "+resp.SessionID))
			for _, r := range resp.Statuses {
				fmt.Fprintf(out, "%s  %s  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.DriverID, stateLabel(r.Status))
			}
			if len(resp.Statuses) == 0 {
				fmt.Fprintln(out, dimStyle.Render("no statuses recorded"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: current session)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print the ADMIN_TOKEN_HASH value for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handlers.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
