package main

import (
	"fmt"
	"os"

	"github.com/goibibo/beatshim/internal/cli"
)

const usage = `beatshim - Filebeat event converter for tab-delimited log pipelines

Usage:
  beatshim <command> [arguments]

Commands:
  convert               Convert events given on the command line or stdin
  run                   Stream events through a configured flow
  validate [path]       Validate flow configuration files

Run 'beatshim <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "convert":
		return cli.RunConvert(os.Args[2:])
	case "run":
		return cli.RunRun(os.Args[2:])
	case "validate":
		return cli.RunValidate(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'beatshim help' for usage", os.Args[1])
	}
}
