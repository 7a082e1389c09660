package config

import (
	"fmt"
	"os"
)

// InitConfig writes a default configuration file to the default location and
// returns the path it was written to. An existing file is only overwritten
// when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to the given path.
// An existing file is only overwritten when force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s\n\n"+
				"Use --force to overwrite it", path)
		}
	}

	return SaveConfig(GetDefaultConfig(), path)
}
