package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/skylinesignage/fleetd/internal/errors"
)

// Save writes cfg to path as TOML, rotating up to three backups first
// (path.back1 newest, path.back3 oldest) the way the teacher's am.persist
// protects against a bad write clobbering the operator's config.
func Save(cfg *Config, path string) error {
	if err := rotateBackups(path); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing config file %s", path)
	}
	return nil
}

func rotateBackups(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	back1, back2, back3 := path+".back1", path+".back2", path+".back3"

	_ = os.Remove(back3)
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "rotating .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "rotating .back1 to .back2")
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config for backup")
	}
	if err := os.WriteFile(back1, content, 0o644); err != nil {
		return errors.Wrap(err, "writing .back1")
	}
	return nil
}
