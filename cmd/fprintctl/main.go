// Command fprintctl is a thin D-Bus client for fprintd, dispatching
// subcommands off os.Args[1] exactly the way the teacher's
// cmd/flyio-image-manager/main.go dispatches process-image/list-images/
// daemon/gc/monitor off its own os.Args[1].
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Args[2:])
	case "enroll":
		err = runEnroll(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "delete":
		err = runDelete(os.Args[2:])
	case "delete-all":
		err = runDeleteAll(os.Args[2:])
	case "monitor":
		err = runMonitor(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "fprintctl: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fprintctl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: fprintctl <command> [flags]

commands:
  list       [-device N]                        list enrolled fingers
  enroll     [-device N] [-finger <name>]        enroll a finger
  verify     [-device N] [-finger <name>]        verify a finger
  delete     [-device N] -finger <name>          delete one enrolled finger
  delete-all [-device N]                         delete every enrolled finger
  monitor    [-device N]                         watch enroll/verify status signals`)
}
