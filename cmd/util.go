package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/sahib/config"
	"github.com/sahib/gcma/defaults"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const defaultConfigPath = "~/.gcma/config.yml"

// ExitCode is an error that maps the error interface to a specific error
// message and a unix exit code
type ExitCode struct {
	Code    int
	Message string
}

func (err ExitCode) Error() string {
	return err.Message
}

type checkFunc func(ctx *cli.Context) int

func withArgCheck(checker checkFunc, handler cli.ActionFunc) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if code := checker(ctx); code != Success {
			return ExitCode{code, "bad arguments"}
		}

		return handler(ctx)
	}
}

func needAtLeast(min int) checkFunc {
	return func(ctx *cli.Context) int {
		if ctx.NArg() < min {
			if min == 1 {
				log.Warningf("Need at least %d argument.", min)
			} else {
				log.Warningf("Need at least %d arguments.", min)
			}

			if err := cli.ShowCommandHelp(ctx, ctx.Command.Name); err != nil {
				log.Warningf("Failed to display --help: %v", err)
			}

			return BadArgs
		}

		return Success
	}
}

func formatGroup(category string) string {
	return strings.ToUpper(category) + " COMMANDS"
}

func setLogPath(path string) error {
	switch path {
	case "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // #nosec
		if err != nil {
			return err
		}

		log.SetOutput(fd)
	}

	return nil
}

// configPath returns the path given by --config or the default one,
// with "~" expanded.
func configPath(ctx *cli.Context) (string, error) {
	path := ctx.GlobalString("config")
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(expanded), nil
}

// openConfig loads the config file if there is one.
// Without a file the defaults are used.
func openConfig(ctx *cli.Context) (*config.Config, error) {
	path, err := configPath(ctx)
	if err != nil {
		return nil, ExitCode{BadArgs, fmt.Sprintf("bad config path: %v", err)}
	}

	cfg, err := defaults.Load(path)
	if err != nil {
		return nil, ExitCode{BadArgs, fmt.Sprintf("failed to load config: %v", err)}
	}

	return cfg, nil
}

func saveConfig(ctx *cli.Context, cfg *config.Config) error {
	path, err := configPath(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	fd, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600) // #nosec
	if err != nil {
		return err
	}

	if err := cfg.Save(config.NewYamlEncoder(fd)); err != nil {
		fd.Close()
		return err
	}

	return fd.Close()
}

// parseSize accepts human readable sizes like "64MiB" or "16k".
func parseSize(ctx *cli.Context, flag string) (uint64, error) {
	size, err := humanize.ParseBytes(ctx.String(flag))
	if err != nil {
		return 0, ExitCode{BadArgs, fmt.Sprintf("bad --%s: %v", flag, err)}
	}

	return size, nil
}
