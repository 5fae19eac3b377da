package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"
)

// Help is the documentation of a single command.
type Help struct {
	Usage       string
	ArgsUsage   string
	Description string
	Complete    cli.BashCompleteFunc
	Flags       []cli.Flag
}

func die(msg string) {
	// be really pedantic when help is missing.
	panic(msg)
}

// HelpTexts maps dotted command paths to their documentation.
var HelpTexts = map[string]Help{
	"scenario": {
		Usage: "Fill a small area with cached pages and claim it back",
		Description: `Stores --files single page files into an area of --pages pages,
   counts how many of them are resident, then claims the whole area
   with one contiguous allocation and checks that no page can be loaded
   anymore.

EXAMPLES:

   $ gcma scenario
   $ gcma scenario --pages 64 --files 100`,
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "pages,p",
				Value: 16,
				Usage: "Number of pages in the area",
			},
			cli.IntFlag{
				Name:  "files,f",
				Value: 20,
				Usage: "Number of single page files to store",
			},
		},
	},
	"bench": {
		Usage: "Run a concurrent store/load/allocate workload",
		Description: `Workers load random pages and store them on a miss while
   an allocator claims random contiguous ranges in the background.
   Afterwards the pool counters and the state of each area are printed.

   Sizes accept units like "64MiB" or "512k".

EXAMPLES:

   $ gcma bench --area-size 128MiB --workers 8 --duration 10s
   $ gcma bench --alloc-every 0   # no contiguous allocations`,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "area-size,s",
				Value: "64MiB",
				Usage: "Size of each area",
			},
			cli.IntFlag{
				Name:  "areas,a",
				Value: 2,
				Usage: "Number of areas to register",
			},
			cli.IntFlag{
				Name:  "workers,w",
				Value: 4,
				Usage: "Number of parallel cache users",
			},
			cli.IntFlag{
				Name:  "files",
				Value: 1024,
				Usage: "Number of distinct files",
			},
			cli.IntFlag{
				Name:  "file-pages",
				Value: 64,
				Usage: "Number of pages per file",
			},
			cli.DurationFlag{
				Name:  "duration,d",
				Value: 3 * time.Second,
				Usage: "How long to run",
			},
			cli.StringFlag{
				Name:  "alloc-size",
				Value: "4MiB",
				Usage: "Size of each contiguous allocation",
			},
			cli.DurationFlag{
				Name:  "alloc-every",
				Value: 50 * time.Millisecond,
				Usage: "Pause between two allocations; 0 disables them",
			},
			cli.Int64Flag{
				Name:  "seed",
				Value: 42,
				Usage: "Seed for the random workload",
			},
		},
	},
	"config": {
		Usage: "Show or modify the configuration",
		Description: `Without a config file (see --config) the defaults are used.
   'config set' creates the file if needed.`,
	},
	"config.ls": {
		Usage: "List all keys with their values and docs",
	},
	"config.get": {
		Usage:     "Print the value of a single key",
		ArgsUsage: "<key>",
	},
	"config.set": {
		Usage:     "Set a key and write the config file",
		ArgsUsage: "<key> <value>",
		Description: `The value is checked against the key's type and validator.

EXAMPLES:

   $ gcma config set pool.page_size 8192
   $ gcma config set evictor.enabled false`,
	},
}

func injectHelp(cmd *cli.Command, path string) {
	help, ok := HelpTexts[path]
	if !ok {
		die(fmt.Sprintf("bug: no such help entry: %v", path))
	}

	cmd.Usage = help.Usage
	cmd.ArgsUsage = help.ArgsUsage
	cmd.Description = help.Description
	cmd.BashComplete = help.Complete
	cmd.Flags = help.Flags
}

func translateHelp(cmds []cli.Command, prefix []string) {
	for idx := range cmds {
		path := append(append([]string{}, prefix...), cmds[idx].Name)
		injectHelp(&cmds[idx], strings.Join(path, "."))
		translateHelp(cmds[idx].Subcommands, path)
	}
}

// TranslateHelp fills in the usage and description for each command.
// This is separated from the command definition to make things more readable,
// and separate logic from the (lengthy) documentation.
func TranslateHelp(cmds []cli.Command) []cli.Command {
	translateHelp(cmds, nil)
	return cmds
}
