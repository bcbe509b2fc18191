package badger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/messor/internal/interfaces"
)

// VariableFile is one entry in a variables TOML file:
//
//	[claude_api_key]
//	value = "sk-..."
//	description = "optional note"
type VariableFile struct {
	Value       string `toml:"value"`
	Description string `toml:"description"`
}

// LoadVariablesFromFiles loads every .toml file in dirPath into the KV store.
// A missing directory is not an error; deployments without seeded variables
// start clean.
func (m *Manager) LoadVariablesFromFiles(ctx context.Context, dirPath string) error {
	if dirPath == "" {
		return nil
	}
	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		m.logger.Debug().Str("dir", dirPath).Msg("Variables directory not found, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read variables directory")
		return nil
	}

	loadedCount := 0
	skippedCount := 0
	failedCount := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		loaded, skipped, failed := m.loadVariablesFromFile(ctx, filepath.Join(dirPath, entry.Name()))
		loadedCount += loaded
		skippedCount += skipped
		failedCount += failed
	}

	m.logger.Debug().
		Str("dir", dirPath).
		Int("loaded", loadedCount).
		Int("skipped", skippedCount).
		Int("errors", failedCount).
		Msg("Finished loading variables from files")

	return nil
}

// loadVariablesFromFile loads variables from a single TOML file
func (m *Manager) loadVariablesFromFile(ctx context.Context, filePath string) (loaded, skipped, failed int) {
	m.logger.Debug().Str("file", filePath).Msg("Loading variables from file")

	content, err := os.ReadFile(filePath)
	if err != nil {
		m.logger.Warn().Err(err).Str("file", filePath).Msg("Failed to read variable file")
		return 0, 0, 1
	}

	var variables map[string]VariableFile
	if err := toml.Unmarshal(content, &variables); err != nil {
		m.logger.Warn().Err(err).Str("file", filePath).Msg("Failed to parse variable file")
		return 0, 0, 1
	}

	fileName := filepath.Base(filePath)
	for key, variable := range variables {
		if variable.Value == "" {
			m.logger.Warn().Str("file", fileName).Str("key", key).Msg("Skipping variable with empty value")
			skipped++
			continue
		}

		isNew, err := m.storeVariable(ctx, key, variable.Value)
		if err != nil {
			m.logger.Error().Err(err).Str("key", key).Msg("Failed to store variable")
			failed++
			continue
		}

		if isNew {
			m.logger.Debug().Str("key", key).Str("file", fileName).Msg("Loaded new variable")
		} else {
			m.logger.Debug().Str("key", key).Str("file", fileName).Msg("Updated existing variable")
		}
		loaded++
	}

	return loaded, skipped, failed
}

// storeVariable upserts one variable, reporting whether the key was new.
func (m *Manager) storeVariable(ctx context.Context, key, value string) (bool, error) {
	_, err := m.kv.Get(ctx, key)
	isNew := errors.Is(err, interfaces.ErrKeyNotFound)
	if err := m.kv.Set(ctx, key, value); err != nil {
		return false, err
	}
	return isNew, nil
}
