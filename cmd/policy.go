package cmd

import (
	"flag"
	"fmt"
	"os"

	"armour.dev/armour/internal/policy"
)

// RunPolicy works with policy source files: check, hash, encode.
func RunPolicy(args []string) error {
	fs := flag.NewFlagSet("policy", flag.ExitOnError)
	protoName := fs.String("protocol", "http", "protocol interface to check against")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage:
  armour policy check  [-protocol http|tcp|all] <file>   type-check a policy
  armour policy hash   [-protocol ...] <file>            print the blake3 identity
  armour policy encode [-protocol ...] <file>            print the wire encoding
`)
		fs.PrintDefaults()
	}
	if len(args) < 1 {
		fs.Usage()
		return fmt.Errorf("missing policy subcommand")
	}
	sub := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expecting one policy file")
	}

	proto, err := policy.ParseProtocol(*protoName)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	prog, err := policy.CompileProgram(string(src))
	if err != nil {
		return err
	}
	pol, err := policy.NewPolicy(proto, prog)
	if err != nil {
		return err
	}

	switch sub {
	case "check":
		fmt.Printf("%s\n", pol.Description())
		for _, entry := range policy.InterfaceFor(proto) {
			fmt.Printf("  %s: %s\n", entry.Name, pol.Get(entry.Name))
		}
		return nil
	case "hash":
		fmt.Println(pol.Hash())
		return nil
	case "encode":
		w, err := policy.NewWire(pol)
		if err != nil {
			return err
		}
		fmt.Println(w.Encoded)
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown policy subcommand %q", sub)
	}
}
