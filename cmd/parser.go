package cmd

import (
	"fmt"
	"os"

	"github.com/sahib/gcma/util/log"
	"github.com/sahib/gcma/version"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	yaml "gopkg.in/yaml.v2"
)

func printVersion(ctx *cli.Context) {
	data, err := yaml.Marshal(version.Current())
	if err != nil {
		fmt.Fprintln(ctx.App.Writer, version.String())
		return
	}

	ctx.App.Writer.Write(data)
}

func handleBeforeCommand(ctx *cli.Context) error {
	if err := setLogPath(ctx.GlobalString("log-path")); err != nil {
		return ExitCode{BadArgs, fmt.Sprintf("bad --log-path: %v", err)}
	}

	level, err := log.ParseLevel(ctx.GlobalString("log-level"))
	if err != nil {
		return ExitCode{BadArgs, fmt.Sprintf("bad --log-level: %v", err)}
	}

	logrus.SetLevel(level)

	useColors := log.IsTerminal(os.Stderr.Fd())
	if ctx.GlobalBool("no-color") {
		useColors = false
	}

	logrus.SetFormatter(&log.FancyLogFormatter{
		UseColors: useColors,
	})

	return nil
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "gcma"
	app.Usage = "Simulate a contiguous memory allocator backed by a second chance page cache"
	app.EnableBashCompletion = true
	app.Version = version.String()
	cli.VersionPrinter = printVersion
	app.CommandNotFound = commandNotFound
	app.Before = handleBeforeCommand

	// Errors printed by cli itself end up in the log like ours.
	app.ErrWriter = &log.Writer{Level: logrus.WarnLevel}

	// Groups:
	poolGroup := formatGroup("pool")
	miscGroup := formatGroup("misc")

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "log-level,L",
			Usage:  "Only log messages of this level or higher (debug, info, warning, error)",
			Value:  "info",
			EnvVar: "GCMA_LOG_LEVEL",
		},
		cli.StringFlag{
			Name:   "log-path,l",
			Usage:  "Where to output the log. May be 'stderr' (default), 'stdout' or a file",
			Value:  "stderr",
			EnvVar: "GCMA_LOG",
		},
		cli.StringFlag{
			Name:   "config,c",
			Usage:  "Path of the config file; the defaults are used if it does not exist",
			Value:  defaultConfigPath,
			EnvVar: "GCMA_CONFIG",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "Never use colors in the log output",
		},
	}

	app.Commands = TranslateHelp([]cli.Command{
		{
			Name:     "scenario",
			Category: poolGroup,
			Action:   handleScenario,
		}, {
			Name:     "bench",
			Category: poolGroup,
			Action:   handleBench,
		}, {
			Name:     "config",
			Category: miscGroup,
			Subcommands: []cli.Command{
				{
					Name:   "ls",
					Action: handleConfigList,
				}, {
					Name:   "get",
					Action: withArgCheck(needAtLeast(1), handleConfigGet),
				}, {
					Name:   "set",
					Action: withArgCheck(needAtLeast(2), handleConfigSet),
				},
			},
		},
	})

	return app
}

// RunCmdline starts the gcma commandline tool.
func RunCmdline(args []string) int {
	app := buildApp()
	if err := app.Run(args); err != nil {
		logrus.Error(err)
		if exitCode, ok := err.(ExitCode); ok {
			return exitCode.Code
		}

		return UnknownError
	}

	return Success
}
