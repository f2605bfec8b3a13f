package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	downStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

type healthPayload struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Version  string `json:"version"`
	Gateway  string `json:"gateway"`
	Database bool   `json:"database"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check dashboard server health",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	url := strings.TrimRight(serverURL(cmd), "/") + "/health"

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("%s %s\n", downStyle.Render("DOWN"), url)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("%s %s\n", downStyle.Render("DOWN"), url)
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Printf("%s %s\n", okStyle.Render("OK"), url)
	fmt.Printf("  version:  %s\n", health.Version)
	fmt.Printf("  uptime:   %s\n", health.Uptime)
	if health.Gateway != "" {
		fmt.Printf("  gateway:  %s\n", health.Gateway)
	}
	fmt.Printf("  database: %v\n", health.Database)
	return nil
}
