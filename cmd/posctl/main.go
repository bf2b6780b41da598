// Command posctl is the shop-owner console for the POS data: backups, restores,
// stock corrections and receipt reprints against the configured storage.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	register(commander, &runtime{out: os.Stdout, errOut: os.Stderr, open: openFromConfig})

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
