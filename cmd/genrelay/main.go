// Command genrelay dispatches generation requests across a preference chain
// of model providers, falling back when one fails.
package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	root := newRootCmd()
	root.SetArgs(defaultToGenerate(os.Args[1:]))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "genrelay: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// commands are the subcommand names; anything else means generate.
var commands = map[string]bool{
	"generate": true, "serve": true, "chain": true, "doctor": true, "encrypt": true,
	"help": true, "completion": true,
}

// defaultToGenerate makes generate the command when none is named, so
// `genrelay --prompt hi` behaves like `genrelay generate --prompt hi`.
func defaultToGenerate(args []string) []string {
	if len(args) == 0 {
		return args
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help" || arg == "-v" || arg == "--version":
			return args
		case arg == "--config" || arg == "--log-level":
			i++ // skip the flag's value
		case strings.HasPrefix(arg, "-"):
		case commands[arg]:
			return args
		default:
			return append([]string{"generate"}, args...)
		}
	}
	return append([]string{"generate"}, args...)
}
