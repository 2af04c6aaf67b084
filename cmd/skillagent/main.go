package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `skillagent - streaming tool-calling agent with file-based skills

USAGE:
    skillagent [COMMAND] [FLAGS]

COMMANDS:
    serve           Run the HTTP gateway (default)
    ask QUESTION    Run one question in the terminal
    research QUESTION
                    Answer one question with the plan, search, verify and
                    solve pipeline (needs tools.search)
    skills          List the discovered skills
    encrypt VALUE   Encrypt a secret for config.yaml (needs SKILLAGENT_CONFIG_KEY)
    version         Print the version

FLAGS:
    -config PATH    Config file (default: config.yaml)

CONFIGURATION:
    SKILLAGENT_* environment variables override the config file.
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "skillagent: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "help":
		fmt.Fprint(stdout, usage)
		return nil
	case "version":
		fmt.Fprintf(stdout, "skillagent %s\n", version)
		return nil
	case "serve":
		return runServe(args)
	case "ask":
		return runAsk(args, stdout)
	case "research":
		return runResearch(args, stdout)
	case "skills":
		return runSkills(args, stdout)
	case "encrypt":
		return runEncrypt(args, stdout)
	default:
		return fmt.Errorf("unknown command %q, run 'skillagent help' for usage", cmd)
	}
}

// commandFlags parses the flags shared by every subcommand and returns the
// config path with the remaining positional arguments.
func commandFlags(name string, args []string) (string, []string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stdout, usage)
		}
		return "", nil, err
	}
	return *configPath, fs.Args(), nil
}
