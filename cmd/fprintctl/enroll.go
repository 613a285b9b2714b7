package main

import (
	"flag"
	"fmt"

	"github.com/godbus/dbus/v5"
)

func runEnroll(args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	username := fs.String("user", currentUsername(), "username to enroll")
	finger := fs.String("finger", "right-index-finger", "finger name, e.g. right-index-finger")
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
		dbus.WithMatchMember("EnrollStatus"),
	); err != nil {
		return fmt.Errorf("subscribe to enroll status: %w", err)
	}

	if call := dev.Call(deviceInterface+".EnrollStart", 0, *finger); call.Err != nil {
		return fmt.Errorf("enroll start: %w", call.Err)
	}
	defer dev.Call(deviceInterface+".EnrollStop", 0)

	fmt.Println("enrolling, swipe the requested finger repeatedly...")
	for sig := range signals {
		if sig.Name != deviceInterface+".EnrollStatus" || len(sig.Body) != 2 {
			continue
		}
		result, _ := sig.Body[0].(string)
		done, _ := sig.Body[1].(bool)
		fmt.Printf("  %s\n", result)
		if done {
			if result == "enroll-completed" {
				return nil
			}
			return fmt.Errorf("enroll failed: %s", result)
		}
	}
	return fmt.Errorf("enroll status stream closed unexpectedly")
}
