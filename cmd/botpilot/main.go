// Command botpilot runs the bot controller service and talks to a running one.
package main

import (
	"flag"
	"fmt"
	"os"

	"botpilot/pkg/config"
	"botpilot/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	flagSet := flag.NewFlagSet("botpilot "+command, flag.ExitOnError)
	configPath := flagSet.String("config", "", "Path to the JSON config file (default: built-in defaults)")
	envFile := flagSet.String("env-file", ".env", "Dotenv file loaded before the config")
	tee := flagSet.Bool("tee", false, "Output logs to both console and file (serve only)")
	jsonOut := flagSet.Bool("json", false, "Print raw JSON (status only)")
	flagSet.Usage = printUsage

	switch command {
	case "version", "-version", "--version":
		fmt.Println(version.String())
		return
	case "help", "-h", "--help":
		printUsage()
		return
	case "serve", "status", "verify", "launch", "stop", "reset":
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err := flagSet.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var exitCode int
	switch command {
	case "serve":
		exitCode = serve(cfg, *tee)
	case "status":
		exitCode = status(cfg, *jsonOut)
	case "verify":
		exitCode = verify(cfg)
	default:
		exitCode = sendCommand(cfg, command)
	}
	os.Exit(exitCode)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "botpilot - local job application bot controller\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s <command> [--config <file>] [--env-file <file>]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve    Run the controller and its web UI (--tee to also log to the console)\n")
	fmt.Fprintf(os.Stderr, "  status   Show the state of a running controller (--json for raw output)\n")
	fmt.Fprintf(os.Stderr, "  verify   Check the data directory, store, runtime and account backend\n")
	fmt.Fprintf(os.Stderr, "  launch   Launch the bot\n")
	fmt.Fprintf(os.Stderr, "  stop     Stop the bot\n")
	fmt.Fprintf(os.Stderr, "  reset    Return a finished bot to idle\n")
	fmt.Fprintf(os.Stderr, "  version  Show version information\n")
}
