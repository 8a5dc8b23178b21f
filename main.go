package main

import (
	"fmt"
	"os"

	"github.com/leighmacdonald/scorebot/cmd"
)

var (
	// Build info embedded by goreleaser.
	version = "master" //nolint:gochecknoglobals
	commit  = "latest" //nolint:gochecknoglobals
	date    = "n/a"    //nolint:gochecknoglobals
)

func main() {
	if errExecute := cmd.Execute(fmt.Sprintf("%s (%s, %s)", version, commit, date)); errExecute != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", errExecute)
		os.Exit(1)
	}
}
