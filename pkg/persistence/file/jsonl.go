package file

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// appendLines appends one JSON document per line to dir/<jobID>.jsonl.
func appendLines[T any](dir, jobID string, items []T) error {
	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, jobID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- jobID is validated
	if err != nil {
		return fmt.Errorf("failed to open %s log for %s: %w", filepath.Base(dir), jobID, err)
	}

	writer := bufio.NewWriter(f)
	encoder := json.NewEncoder(writer)

	for _, item := range items {
		err = encoder.Encode(item)
		if err != nil {
			_ = f.Close()

			return fmt.Errorf("failed to encode entry for %s: %w", jobID, err)
		}
	}

	err = writer.Flush()
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("failed to flush entries for %s: %w", jobID, err)
	}

	return f.Close()
}

// readLines decodes every line of dir/<jobID>.jsonl. A missing file yields no items.
func readLines[T any](dir, jobID string) ([]T, error) {
	f, err := os.Open(filepath.Join(dir, jobID+".jsonl")) // #nosec G304 -- jobID is validated
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []T{}, nil
		}

		return nil, fmt.Errorf("failed to open entries for %s: %w", jobID, err)
	}

	defer func() { _ = f.Close() }()

	items := make([]T, 0)
	decoder := json.NewDecoder(f)

	for decoder.More() {
		var item T

		err = decoder.Decode(&item)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry for %s: %w", jobID, err)
		}

		items = append(items, item)
	}

	return items, nil
}
