package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openclaw/clawdeck/internal/stream"
)

var (
	timeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	connectStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	errStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	activityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	sessionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	costStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	agentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	messageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

func newTailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow the live agent event stream",
		Long: `Tail subscribes to the dashboard server's event stream and prints each
event as it arrives. The connection reconnects automatically with backoff
when the server drops it.

Example:
  clawdeck tail
  clawdeck tail --server http://dash.internal:4300`,
		Args: cobra.NoArgs,
		RunE: runTail,
	}
}

func runTail(cmd *cobra.Command, args []string) error {
	url := strings.TrimRight(serverURL(cmd), "/") + "/api/events"

	client := stream.NewClient(stream.ClientConfig{
		URL:        url,
		OnEnvelope: printEnvelope,
		OnDisconnect: func() {
			printLine(time.Now(), errStyle.Render("closed"), "stream closed")
		},
	})
	client.Connect()
	defer client.Disconnect()

	fmt.Printf("Tailing %s (Ctrl-C to stop)\n", url)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nShutting down...")
	return nil
}

func printEnvelope(env stream.Envelope) {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch env.Type {
	case stream.EventConnected:
		printLine(ts, connectStyle.Render("connected"), "stream open")
	case stream.EventActivity:
		var data stream.ActivityData
		decodeInto(env, &data)
		printLine(ts, activityStyle.Render("activity"),
			fmt.Sprintf("%s %s %s", data.AgentID, data.Tool, data.Detail))
	case stream.EventSessionStart:
		var data stream.SessionStartData
		decodeInto(env, &data)
		printLine(ts, sessionStyle.Render("session+"),
			fmt.Sprintf("%s agent=%s model=%s", data.SessionID, data.AgentID, data.Model))
	case stream.EventSessionEnd:
		var data stream.SessionEndData
		decodeInto(env, &data)
		printLine(ts, sessionStyle.Render("session-"),
			fmt.Sprintf("%s %s", data.SessionID, data.Reason))
	case stream.EventCostUpdate:
		var data stream.CostUpdateData
		decodeInto(env, &data)
		printLine(ts, costStyle.Render("cost"),
			fmt.Sprintf("%s $%.4f (in %d / out %d tokens)",
				data.SessionID, data.CostUSD, data.InputTokens, data.OutputTokens))
	case stream.EventMessage:
		var data stream.MessageData
		decodeInto(env, &data)
		printLine(ts, messageStyle.Render(data.Role), data.Content)
	case stream.EventAgentSpawn, stream.EventAgentComplete:
		var data stream.AgentEventData
		decodeInto(env, &data)
		verb := "spawned"
		if env.Type == stream.EventAgentComplete {
			verb = "completed"
		}
		printLine(ts, agentStyle.Render("agent"),
			fmt.Sprintf("%s %s %s", data.AgentID, verb, data.Task))
	case stream.EventError:
		var data stream.ErrorData
		decodeInto(env, &data)
		printLine(ts, errStyle.Render("error"), data.Message)
	}
}

func decodeInto(env stream.Envelope, into interface{}) {
	if len(env.Data) == 0 {
		return
	}
	_ = json.Unmarshal(env.Data, into)
}

func printLine(ts time.Time, tag, body string) {
	fmt.Printf("%s %s %s\n", timeStyle.Render(ts.Local().Format("15:04:05")), tag, strings.TrimSpace(body))
}
