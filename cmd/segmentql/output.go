package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rpattn/segmentql/internal/collector"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/filter"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readCriteria loads filter criteria from a file, or from stdin when path is
// "-". Both the current and the legacy stored shapes are accepted.
func readCriteria(path string, stdin io.Reader) (domain.FilterCriteria, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.FilterCriteria{}, fmt.Errorf("failed to read criteria: %w", err)
	}
	return filter.Deserialize(data)
}

func parsePolicyFlag(raw string, fallback collector.Policy) (collector.Policy, error) {
	if raw == "" {
		return fallback, nil
	}
	return collector.ParsePolicy(raw)
}
