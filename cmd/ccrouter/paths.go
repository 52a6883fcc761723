package main

import (
	"os"
	"path/filepath"
)

// defaultCcrouterDir returns $HOME/.ccrouter, falling back to the current
// directory if the home directory can't be resolved (e.g. no $HOME set).
func defaultCcrouterDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".ccrouter"
	}
	return filepath.Join(homeDir, ".ccrouter")
}

func defaultConfigPath() string {
	return filepath.Join(defaultCcrouterDir(), "config.yaml")
}

func defaultPidfilePath() string {
	return filepath.Join(defaultCcrouterDir(), "ccrouter.pid")
}

func defaultTokenStorePath() string {
	return filepath.Join(defaultCcrouterDir(), "tokens.json")
}
