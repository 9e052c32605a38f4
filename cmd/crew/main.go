package main

import (
	"fmt"
	"log/slog"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("crew %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "run":
		err = runCrew(os.Args[2:])
	case "crews":
		err = listCrews()
	case "vault":
		err = runVault(os.Args[2:])
	case "schedule":
		err = runSchedule(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crew <command>

Commands:
  run <crew> [-mode m] [-o dir] [-format md|txt|zst] key=value...
                 Run a crew once and print its result
  crews          List the available crews
  gateway        Start the crew gateway service
  vault          Manage encrypted secrets
  schedule       Manage crew schedules
  backup         Archive the store and crew definitions
  restore        Restore an archive made by backup
  version        Print version

Environment:
  CREW_CONFIG    Config file (default config/crew.yaml)
`)
}
