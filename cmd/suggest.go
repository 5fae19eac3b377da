package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xrash/smetrics"
)

// Typed names that are at least this similar to a command get suggested.
const minSimilarity = 0.6

// wellKnown maps words used by other allocator and cache tools
// to the full path of the gcma command that does the same.
var wellKnown = map[string]string{
	"alloc":     "scenario",
	"simulate":  "scenario",
	"benchmark": "bench",
	"stress":    "bench",
	"settings":  "config",
	"list":      "config ls",
	"show":      "config get",
}

type suggestion struct {
	// path is the full command line, like "config ls".
	path  string
	score float64
}

func similarity(a, b string) float64 {
	lensum := float64(len(a) + len(b))
	if lensum == 0 {
		return 1.0
	}

	dist := float64(smetrics.WagnerFischer(a, b, 1, 1, 2))
	return (lensum - dist) / lensum
}

// resolveCommandPath walks the arguments of the toplevel context.
// It returns the names of the commands that resolved
// and the subcommands of the last one of them.
func resolveCommandPath(ctx *cli.Context) ([]string, []cli.Command) {
	for ctx.Parent() != nil {
		ctx = ctx.Parent()
	}

	cmds := ctx.App.Commands
	args := []string(ctx.Args())

	// The last argument is the one that did not resolve.
	if len(args) > 0 {
		args = args[:len(args)-1]
	}

	path := []string{}
	for _, arg := range args {
		var next *cli.Command
		for idx := range cmds {
			if cmds[idx].HasName(arg) {
				next = &cmds[idx]
				break
			}
		}

		if next == nil {
			break
		}

		path = append(path, next.Name)
		cmds = next.Subcommands
	}

	return path, cmds
}

// findSimilarCommands returns the commands below `path` that `typed`
// might have meant, best match first.
func findSimilarCommands(path []string, typed string, cmds []cli.Command) []suggestion {
	prefix := strings.Join(path, " ")
	seen := make(map[string]bool)
	similars := []suggestion{}

	add := func(cmdPath string, score float64) {
		if seen[cmdPath] {
			return
		}

		seen[cmdPath] = true
		similars = append(similars, suggestion{path: cmdPath, score: score})
	}

	for _, cmd := range cmds {
		best := 0.0
		for _, name := range cmd.Names() {
			if score := similarity(typed, name); score > best {
				best = score
			}
		}

		if best >= minSimilarity {
			add(strings.TrimSpace(prefix+" "+cmd.Name), best)
		}
	}

	if known, ok := wellKnown[typed]; ok && strings.HasPrefix(known, prefix) {
		add(known, 0.0)
	}

	sort.SliceStable(similars, func(i, j int) bool {
		return similars[i].score > similars[j].score
	})

	return similars
}

func commandNotFound(ctx *cli.Context, typed string) {
	w := ctx.App.Writer
	path, cmds := resolveCommandPath(ctx)

	badCmd := color.RedString(typed)
	if len(path) == 0 {
		fmt.Fprintf(w, "`%s` is not a gcma command.", badCmd)
	} else {
		parent := color.YellowString(strings.Join(path, " "))
		fmt.Fprintf(w, "`%s` has no subcommand `%s`.", parent, badCmd)
	}

	similars := findSimilarCommands(path, typed, cmds)
	switch len(similars) {
	case 0:
		fmt.Fprintln(w, " See `gcma help` for a list.")
	case 1:
		fmt.Fprintf(w, " Try `gcma %s`.\n", color.GreenString(similars[0].path))
	default:
		fmt.Fprintln(w, " Close matches:")
		for _, similar := range similars {
			fmt.Fprintf(w, "  gcma %s\n", color.GreenString(similar.path))
		}
	}
}
