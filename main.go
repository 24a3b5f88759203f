package main

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/boxwatch/cmd"
	"grimm.is/boxwatch/internal/brand"
)

func main() {
	// Background mode re-execs the binary with this marker so the
	// child runs the daemon directly.
	if os.Getenv(brand.ConfigEnvPrefix+"_DAEMON_CHILD") == "1" {
		os.Unsetenv(brand.ConfigEnvPrefix + "_DAEMON_CHILD")
		configFile := brand.DefaultConfigPath()
		if len(os.Args) > 1 {
			configFile = os.Args[1]
		}
		if err := cmd.RunDaemon(configFile); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", brand.BinaryName, err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")

		foreground := startFlags.Bool("foreground", false, "Run in foreground (don't daemonize)")
		startFlags.BoolVar(foreground, "f", false, "Run in foreground (short)")

		startFlags.Parse(os.Args[2:])

		var err error
		if *foreground {
			err = cmd.RunDaemon(*configFile)
		} else {
			err = cmd.RunStart(*configFile)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "stop":
		if err := cmd.RunStop(); err != nil {
			fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Probe the portal after validating")
		checkFlags.BoolVar(verbose, "v", false, "Probe the portal (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		fmt.Printf("%s %s (built %s, commit %s)\n", brand.BinaryName, brand.Version, brand.BuildTime, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - %s

Usage:
  %s start [-c config] [-f]   Start the daemon (use -f to stay in foreground)
  %s stop                     Stop the running daemon
  %s check [-v] [config]      Validate a configuration file (-v probes the portal)
  %s version                  Print version information

Default config: %s
`, brand.BinaryName, brand.Description, brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.BinaryName, brand.DefaultConfigPath())
}
