package cmd

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sahib/gcma/defaults"
	"github.com/sahib/gcma/util/log"
	"github.com/sahib/gcma/version"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func withTempDir(t *testing.T, fn func(dir string)) {
	dir, err := ioutil.TempDir("", "gcma-cmd-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	fn(dir)
}

func runApp(t *testing.T, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	app := buildApp()
	app.Writer = buf
	app.ErrWriter = buf

	err := app.Run(append([]string{"gcma", "--log-level", "error"}, args...))
	return buf.String(), err
}

func TestHelpIsComplete(t *testing.T) {
	// TranslateHelp panics on missing entries:
	app := buildApp()
	for _, cmd := range app.Commands {
		require.NotEmpty(t, cmd.Usage, cmd.Name)
	}
}

func TestErrWriterLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	logrus.SetOutput(buf)
	defer logrus.SetOutput(os.Stderr)

	// Other tests run the app with --log-level error.
	defer logrus.SetLevel(logrus.GetLevel())
	logrus.SetLevel(logrus.InfoLevel)

	app := buildApp()
	require.IsType(t, &log.Writer{}, app.ErrWriter)

	_, err := app.ErrWriter.Write([]byte("flag provided but not defined: -x\n"))
	require.NoError(t, err)
	require.Contains(t, buf.String(), "flag provided but not defined: -x")
}

func TestVersionFlag(t *testing.T) {
	out, err := runApp(t, "--version")
	require.NoError(t, err)
	require.Contains(t, out, "semver: "+version.Semver)
	require.Contains(t, out, "go_version: ")
}

func TestScenario(t *testing.T) {
	cfg, err := defaults.New()
	require.NoError(t, err)
	require.NoError(t, cfg.SetBool("evictor.enabled", false))

	report, snap, err := runScenario(cfg, 16, 20)
	require.NoError(t, err)
	require.Equal(t, &scenarioReport{
		Resident:     16,
		Evicted:      4,
		Transitional: 16,
		HitsAfter:    0,
	}, report)

	require.Equal(t, int64(20), snap.Stored)
	require.Equal(t, int64(16), snap.Discarded)
	require.Equal(t, int64(0), snap.Cached)
}

func TestScenarioCommand(t *testing.T) {
	withTempDir(t, func(dir string) {
		cfgPath := filepath.Join(dir, "config.yml")
		out, err := runApp(t, "--config", cfgPath, "scenario", "--pages", "8", "--files", "10")
		require.NoError(t, err)
		require.Contains(t, out, "8 pages")
		require.Contains(t, out, "10 single page files")

		_, err = runApp(t, "--config", cfgPath, "scenario", "--pages", "0")
		require.Equal(t, BadArgs, err.(ExitCode).Code)
	})
}

func TestBench(t *testing.T) {
	cfg, err := defaults.New()
	require.NoError(t, err)

	require.NoError(t, cfg.SetBool("evictor.enabled", false))

	res, err := runBench(cfg, benchOptions{
		areaSize:   1 << 20,
		areas:      2,
		workers:    3,
		files:      32,
		filePages:  16,
		duration:   300 * time.Millisecond,
		allocSize:  64 << 10,
		allocEvery: 5 * time.Millisecond,
		seed:       1,
	})

	require.NoError(t, err)
	require.True(t, res.Loads > 0)
	require.True(t, res.Hits <= res.Loads)
	require.True(t, res.Allocs+res.BusyAllocs > 0)
	require.Len(t, res.Areas, 2)

	for _, info := range res.Areas {
		require.Equal(t, 256, info.Total)
		require.Equal(t, 0, info.Transitional)
		require.Equal(t, info.Total, info.Free+info.Cached)
	}

	buf := &bytes.Buffer{}
	require.NoError(t, printBenchResult(buf, res, 4096))
	require.Contains(t, buf.String(), "stored:")
	require.Contains(t, buf.String(), "bench-1")
}

func TestBenchBadArgs(t *testing.T) {
	withTempDir(t, func(dir string) {
		cfgPath := filepath.Join(dir, "config.yml")
		_, err := runApp(t, "--config", cfgPath, "bench", "--area-size", "lots")
		require.Equal(t, BadArgs, err.(ExitCode).Code)

		// Not a multiple of the page size:
		_, err = runApp(t, "--config", cfgPath, "bench", "--area-size", "1000", "--duration", "10ms")
		require.Equal(t, BadArgs, err.(ExitCode).Code)
	})
}

func TestConfigSetGet(t *testing.T) {
	withTempDir(t, func(dir string) {
		cfgPath := filepath.Join(dir, "sub", "config.yml")

		out, err := runApp(t, "--config", cfgPath, "config", "get", "pool.evict_batch")
		require.NoError(t, err)
		require.Equal(t, "64\n", out)

		_, err = runApp(t, "--config", cfgPath, "config", "set", "pool.evict_batch", "32")
		require.NoError(t, err)

		cfg, err := defaults.Load(cfgPath)
		require.NoError(t, err)
		require.Equal(t, int64(32), cfg.Int("pool.evict_batch"))

		out, err = runApp(t, "--config", cfgPath, "config", "get", "pool.evict_batch")
		require.NoError(t, err)
		require.Equal(t, "32\n", out)

		_, err = runApp(t, "--config", cfgPath, "config", "get", "pool.nope")
		require.Equal(t, BadArgs, err.(ExitCode).Code)

		_, err = runApp(t, "--config", cfgPath, "config", "set", "pool.page_size", "3000")
		require.Equal(t, BadArgs, err.(ExitCode).Code)

		out, err = runApp(t, "--config", cfgPath, "config", "ls")
		require.NoError(t, err)
		require.Contains(t, out, "discard.max_retries")
	})
}

func TestFindSimilarCommands(t *testing.T) {
	app := buildApp()

	paths := func(similars []suggestion) []string {
		names := []string{}
		for _, similar := range similars {
			names = append(names, similar.path)
		}

		return names
	}

	require.Equal(t, []string{"bench"}, paths(findSimilarCommands(nil, "bnech", app.Commands)))
	require.Equal(t, []string{"scenario"}, paths(findSimilarCommands(nil, "alloc", app.Commands)))
	require.Equal(t, []string{"config ls"}, paths(findSimilarCommands(nil, "list", app.Commands)))
	require.Empty(t, findSimilarCommands(nil, "xyz", app.Commands))

	// Fuzzy and well known match agree; only one entry:
	require.Equal(t, []string{"bench"}, paths(findSimilarCommands(nil, "benchmark", app.Commands)))

	configCmd := app.Command("config")
	require.NotNil(t, configCmd)

	path := []string{"config"}
	require.Equal(
		t,
		[]string{"config ls", "config set"},
		paths(findSimilarCommands(path, "lst", configCmd.Subcommands)),
	)
	require.Equal(t, []string{"config ls"}, paths(findSimilarCommands(path, "list", configCmd.Subcommands)))

	// Well known names of other commands are not offered below config:
	require.Empty(t, findSimilarCommands(path, "alloc", configCmd.Subcommands))
}

func TestCommandNotFound(t *testing.T) {
	withTempDir(t, func(dir string) {
		cfgPath := filepath.Join(dir, "config.yml")

		out, err := runApp(t, "--config", cfgPath, "bnech")
		require.NoError(t, err)
		require.Contains(t, out, "is not a gcma command")
		require.Contains(t, out, "bench")

		out, err = runApp(t, "--config", cfgPath, "config", "lst")
		require.NoError(t, err)
		require.Contains(t, out, "has no subcommand")
		require.Contains(t, out, "config ls")
	})
}
