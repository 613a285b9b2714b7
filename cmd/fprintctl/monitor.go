package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/godbus/dbus/v5"
)

// monitor styling mirrors tui/styles.go's palette (success green, error
// red, muted gray) without pulling in the full bubbletea dashboard model;
// a monitor session is a passive signal tail, not an interactive program.
var (
	monitorSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#28A745")).Bold(true)
	monitorError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC3545")).Bold(true)
	monitorMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C757D"))
	monitorTitle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
)

func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.close()

	dev, err := c.device(*deviceN)
	if err != nil {
		return err
	}

	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dev.Path()),
		dbus.WithMatchInterface(deviceInterface),
	); err != nil {
		return fmt.Errorf("subscribe to device signals: %w", err)
	}

	fmt.Println(monitorTitle.Render("fprintctl monitor") + monitorMuted.Render(fmt.Sprintf("  (%s)", dev.Path())))

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	for sig := range signals {
		ts := time.Now().Format("15:04:05")
		switch sig.Name {
		case deviceInterface + ".EnrollStatus", deviceInterface + ".VerifyStatus":
			if len(sig.Body) != 2 {
				continue
			}
			result, _ := sig.Body[0].(string)
			done, _ := sig.Body[1].(bool)
			style := monitorMuted
			if done {
				if isSuccessResult(result) {
					style = monitorSuccess
				} else {
					style = monitorError
				}
			}
			fmt.Printf("%s %s\n", monitorMuted.Render(ts), style.Render(result))
		case deviceInterface + ".VerifyFingerSelected":
			if len(sig.Body) != 1 {
				continue
			}
			name, _ := sig.Body[0].(string)
			fmt.Printf("%s %s\n", monitorMuted.Render(ts), monitorMuted.Render("finger selected: "+name))
		}
	}
	return nil
}

func isSuccessResult(result string) bool {
	return result == "verify-match" || result == "enroll-completed"
}
