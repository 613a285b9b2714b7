package main

import (
	"flag"
	"fmt"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	deviceN := fs.Int("device", -1, "device index (default device if omitted)")
	username := fs.String("user", currentUsername(), "username to list enrolled fingers for")
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

	var fingers []string
	if call := dev.Call(deviceInterface+".ListEnrolledFingers", 0, *username); call.Err != nil {
		return fmt.Errorf("list enrolled fingers: %w", call.Err)
	} else if err := call.Store(&fingers); err != nil {
		return err
	}

	if len(fingers) == 0 {
		fmt.Printf("no fingers enrolled for %s\n", *username)
		return nil
	}
	fmt.Printf("fingers enrolled for %s:\n", *username)
	for _, f := range fingers {
		fmt.Printf("  - %s\n", f)
	}
	return nil
}
