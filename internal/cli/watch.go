package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"LUCID/go-backend/internal/handlers"
	"LUCID/go-backend/internal/models"
	"LUCID/go-backend/internal/monitor"
)

func watchCmd(o *options) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream windows and alerts as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := o.backend().wsURL(clientID)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.Dial(u, nil)
			if err != nil {
				return fmt.Errorf("connect %s: %w", u, err)
			}
			defer conn.Close()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)
			go func() {
				<-interrupt
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
			}()

			return stream(conn, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id to register with")
	return cmd
}

// stream prints every event until the connection closes.
func stream(conn *websocket.Conn, out io.Writer) error {
	for {
		var msg handlers.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if line := render(msg); line != "" {
			fmt.Fprintln(out, line)
		}
	}
}

// render turns one hub message into a line of output. Payloads arrive as
// generic JSON and are re-decoded into their typed form.
func render(msg handlers.WebSocketMessage) string {
	at := time.Unix(msg.Timestamp, 0).Format("15:04:05")
	switch msg.Type {
	case "WELCOME":
		return dimStyle.Render(fmt.Sprintf("%s connected as %s", at, msg.ClientID))
	case monitor.MsgWindow:
		var w models.Window
		if redecode(msg.Payload, &w) != nil {
			return ""
		}
		return fmt.Sprintf("%s window %s  %s  %s", at, clock(w.Timestamp), stateLabel(w.State.State), w.State.Reason)
	case monitor.MsgAlert:
		var a models.Alert
		if redecode(msg.Payload, &a) != nil {
			return ""
		}
		return fmt.Sprintf("%s ALERT  %s  %s  %s", at, a.TimeInterval, stateLabel(a.Status), a.Reason)
	case monitor.MsgCallFailed:
		var p map[string]interface{}
		redecode(msg.Payload, &p)
		return drowsyStyle.Render(fmt.Sprintf("%s call t=%v failed: %v", at, p["timestamp"], p["error"]))
	case monitor.MsgSessionStarted, monitor.MsgSessionReset:
		var p map[string]interface{}
		redecode(msg.Payload, &p)
		return headerStyle.Render(fmt.Sprintf("%s %s %v", at, msg.Type, p["session_id"]))
	}
	return ""
}

func redecode(payload interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
