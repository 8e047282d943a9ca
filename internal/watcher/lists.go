package watcher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// AllowLists bundles the two decision lists: trusted sender display names
// and trigger subject phrases. They are re-read from disk for every
// classification, so edits take effect on the next unseen message without a
// restart.
type AllowLists struct {
	Senders  []string
	Subjects []string
}

// LoadAllowLists reads both JSON list files from disk.
func LoadAllowLists(sendersPath, subjectsPath string) (AllowLists, error) {
	senders, err := readStringList(sendersPath)
	if err != nil {
		return AllowLists{}, fmt.Errorf("failed to load sender list: %w", err)
	}

	subjects, err := readStringList(subjectsPath)
	if err != nil {
		return AllowLists{}, fmt.Errorf("failed to load subject list: %w", err)
	}

	return AllowLists{Senders: senders, Subjects: subjects}, nil
}

// EnsureListFiles creates an empty JSON list for any allow-list path that
// does not exist yet, so a fresh install starts from a known state instead
// of warning on every scanned message.
func EnsureListFiles(cfg Config) error {
	for _, path := range []string{cfg.AllowedSendersFile, cfg.TriggerSubjectsFile} {
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if err := os.WriteFile(path, []byte("[]\n"), 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		slog.Info("Created empty allow-list file", "path", path)
	}
	return nil
}

func readStringList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return list, nil
}
