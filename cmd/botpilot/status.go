package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"botpilot/pkg/botcontrol"
	"botpilot/pkg/config"
	"botpilot/pkg/proto"
)

const defaultWidth = 60

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(14)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#b91c1c"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// stateColors picks the badge color per bot state.
var stateColors = map[proto.BotState]lipgloss.Color{
	proto.StateIdle:      lipgloss.Color("244"),
	proto.StateLaunching: lipgloss.Color("#92400e"),
	proto.StateRunning:   lipgloss.Color("#166534"),
	proto.StateStopping:  lipgloss.Color("#92400e"),
	proto.StateStopped:   lipgloss.Color("#1e3a8a"),
	proto.StateCompleted: lipgloss.Color("#166534"),
	proto.StateFailed:    lipgloss.Color("#b91c1c"),
}

func status(cfg *config.Config, jsonOut bool) int {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	snap, err := newAPIClient(cfg).Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fmt.Println(renderPlain(snap))
		return 0
	}
	width := defaultWidth
	if w, _, err := term.GetSize(fd); err == nil && w > 0 && w-4 < width {
		width = w - 4
	}
	fmt.Println(renderStatus(snap, width, time.Now()))
	return 0
}

func sendCommand(cfg *config.Config, command string) int {
	// Launch blocks until the runtime is spawned.
	ctx, cancel := context.WithTimeout(context.Background(), 2*clientTimeout)
	defer cancel()

	if err := newAPIClient(cfg).Command(ctx, command); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		return 1
	}
	fmt.Printf("%s accepted\n", command)
	return 0
}

type statusLine struct {
	label string
	value string
}

func statusLines(snap *botcontrol.Snapshot, now time.Time) []statusLine {
	lines := []statusLine{{"State", string(snap.BotState)}}
	if snap.BotPID != 0 {
		lines = append(lines, statusLine{"PID", fmt.Sprintf("%d", snap.BotPID)})
	}
	if snap.StartedAt != nil {
		lines = append(lines, statusLine{"Uptime", now.Sub(*snap.StartedAt).Truncate(time.Second).String()})
	}
	if snap.LaunchProgress != nil && snap.LaunchProgress.Message != "" {
		lines = append(lines, statusLine{"Progress", snap.LaunchProgress.Message})
	}
	if snap.CurrentActivity != "" {
		lines = append(lines, statusLine{"Activity", snap.CurrentActivity})
	}
	if len(snap.ActivityDetails) > 0 {
		lines = append(lines, statusLine{"Details", formatDetails(snap.ActivityDetails)})
	}
	if snap.StopReason != "" {
		lines = append(lines, statusLine{"Stop reason", snap.StopReason})
	}
	lines = append(lines,
		statusLine{"Session", formatStats(snap.SessionStats)},
		statusLine{"All time", formatStats(snap.DisplayTotals)},
		statusLine{"Credits", fmt.Sprintf("%d", snap.Conditions.Credits)},
	)
	if !snap.CanLaunch && snap.BlockingReason != "" {
		lines = append(lines, statusLine{"Blocked", snap.BlockingReason})
	}
	return lines
}

func formatStats(s proto.Stats) string {
	return fmt.Sprintf("%d found, %d applied, %d failed, %d credits", s.JobsFound, s.JobsApplied, s.JobsFailed, s.CreditsUsed)
}

func formatDetails(details proto.ActivityDetails) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}

// renderPlain is used when stdout is not a terminal.
func renderPlain(snap *botcontrol.Snapshot) string {
	var b strings.Builder
	for _, l := range statusLines(snap, time.Now()) {
		fmt.Fprintf(&b, "%s: %s\n", strings.ToLower(l.label), l.value)
	}
	if snap.ErrorMessage != "" {
		fmt.Fprintf(&b, "error: %s\n", snap.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStatus(snap *botcontrol.Snapshot, width int, now time.Time) string {
	color, ok := stateColors[snap.BotState]
	if !ok {
		color = lipgloss.Color("244")
	}
	badge := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(color).Padding(0, 1).
		Render(strings.ToUpper(string(snap.BotState)))

	rows := []string{titleStyle.Render("botpilot") + "  " + badge, ""}
	valueStyle := lipgloss.NewStyle().Width(max(width-16, 10))
	for _, l := range statusLines(snap, now) {
		if l.label == "State" {
			continue
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(l.label), valueStyle.Render(l.value)))
	}
	if snap.ErrorMessage != "" {
		rows = append(rows, "", errorStyle.Width(width).Render(snap.ErrorMessage))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
