package main

import (
	"fmt"
	"io"
	"os"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "expected 'render', 'inspect', 'presets', 'play' or 'version'")
		return 2
	}

	var err error
	switch args[0] {
	case "render":
		err = runRender(args[1:], stdout, stderr)
	case "inspect":
		err = runInspect(args[1:], stdout)
	case "presets":
		err = runPresets(args[1:], stdout)
	case "play":
		err = runPlay(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
