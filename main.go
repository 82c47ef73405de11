package main

import (
	"fmt"
	"os"

	"armour.dev/armour/cmd"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "control":
		err = cmd.RunControl(os.Args[2:])
	case "host":
		err = cmd.RunHost(os.Args[2:])
	case "proxy":
		err = cmd.RunProxy(os.Args[2:])
	case "policy":
		err = cmd.RunPolicy(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `armour - policy-driven data plane

Usage:
  armour control [flags]    run the control plane
  armour host    [flags]    run a host agent
  armour proxy   [flags]    run a proxy instance
  armour policy  <cmd>      work with policy source files

Run "armour <command> -h" for command flags.
`)
}
