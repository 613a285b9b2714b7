package main

import (
	"flag"
	"fmt"
)

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	username := fs.String("user", currentUsername(), "username owning the finger")
	finger := fs.String("finger", "", "finger name to delete (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *finger == "" {
		return fmt.Errorf("-finger is required")
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

	if call := dev.Call(deviceInterface+".DeleteEnrolledFinger", 0, *finger); call.Err != nil {
		return fmt.Errorf("delete enrolled finger: %w", call.Err)
	}
	fmt.Printf("deleted %s for %s\n", *finger, *username)
	return nil
}

func runDeleteAll(args []string) error {
	fs := flag.NewFlagSet("delete-all", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	username := fs.String("user", currentUsername(), "username to delete all fingers for")
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

	if call := dev.Call(deviceInterface+".DeleteEnrolledFingers", 0, *username); call.Err != nil {
		return fmt.Errorf("delete enrolled fingers: %w", call.Err)
	}
	fmt.Printf("deleted all fingers for %s\n", *username)
	return nil
}
