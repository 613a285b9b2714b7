package main

import (
	"flag"
	"fmt"

	"github.com/godbus/dbus/v5"
)

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	username := fs.String("user", currentUsername(), "username to verify")
	finger := fs.String("finger", "", "finger name to verify against (empty verifies any enrolled finger)")
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

	if call := dev.Call(deviceInterface+".Claim", 0, *username); call.Err != nil {
		return fmt.Errorf("claim device: %w", call.Err)
	}
	defer dev.Call(deviceInterface+".Release", 0)

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dev.Path()),
		dbus.WithMatchInterface(deviceInterface),
		dbus.WithMatchMember("VerifyStatus"),
	); err != nil {
		return fmt.Errorf("subscribe to verify status: %w", err)
	}

	if call := dev.Call(deviceInterface+".VerifyStart", 0, *finger); call.Err != nil {
		return fmt.Errorf("verify start: %w", call.Err)
	}
	defer dev.Call(deviceInterface+".VerifyStop", 0)

	fmt.Println("verifying, swipe the requested finger...")
	for sig := range signals {
		if sig.Name != deviceInterface+".VerifyStatus" || len(sig.Body) != 2 {
			continue
		}
		result, _ := sig.Body[0].(string)
		done, _ := sig.Body[1].(bool)
		fmt.Printf("  %s\n", result)
		if done {
			if result == "verify-match" {
				return nil
			}
			return fmt.Errorf("verify did not match: %s", result)
		}
	}
	return fmt.Errorf("verify status stream closed unexpectedly")
}
