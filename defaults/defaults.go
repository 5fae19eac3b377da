// Package defaults holds the config schema of gcma and its migrations.
package defaults

import (
	"os"

	e "github.com/pkg/errors"
	"github.com/sahib/config"
	log "github.com/sirupsen/logrus"
)

// CurrentVersion is bumped whenever a key is renamed or removed.
const CurrentVersion = 0

// Defaults is the schema of the newest config version.
var Defaults = DefaultsV0

// migrater knows every schema version gcma ever had.
// Register new versions here together with a migration from the previous one.
func migrater() *config.Migrater {
	mgr := config.NewMigrater(CurrentVersion, config.StrictnessPanic)
	mgr.Add(0, nil, DefaultsV0)
	return mgr
}

// New returns a config that only consists of the defaults.
func New() (*config.Config, error) {
	return config.Open(nil, Defaults, config.StrictnessPanic)
}

// Load reads the config at `path` and migrates it to CurrentVersion,
// so callers can rely on the newest keys being present.
// A missing file is no error; the defaults are used then.
func Load(path string) (*config.Config, error) {
	fd, err := os.Open(path)
	if os.IsNotExist(err) {
		log.Debugf("no config at %s; using defaults", path)
		return New()
	}

	if err != nil {
		return nil, e.Wrap(err, "failed to open config")
	}

	defer fd.Close()

	cfg, err := migrater().Migrate(config.NewYamlDecoder(fd))
	if err != nil {
		return nil, e.Wrapf(err, "failed to migrate %s", path)
	}

	return cfg, nil
}
