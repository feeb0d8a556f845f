package app

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/hylla/ideadispatch/internal/domain"
)

// maxTelemetryLine bounds one NDJSON telemetry record.
const maxTelemetryLine = 1 << 20

// LoadRegistry reads the artifact registry. A missing "artifacts" key is malformed.
func LoadRegistry(path string) (domain.Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.Registry{}, fmt.Errorf("registry: %w", ErrMissingPath)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Registry{}, fmt.Errorf("read registry %q: %w", path, err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(content, &keys); err != nil {
		return domain.Registry{}, fmt.Errorf("decode registry %q: %w: %v", path, ErrMalformedRegistry, err)
	}
	rawArtifacts, ok := keys["artifacts"]
	if !ok {
		return domain.Registry{}, fmt.Errorf("registry %q has no \"artifacts\" key: %w", path, ErrMalformedRegistry)
	}
	var registry domain.Registry
	if err := json.Unmarshal(content, &registry); err != nil {
		return domain.Registry{}, fmt.Errorf("decode registry %q: %w: %v", path, ErrMalformedRegistry, err)
	}
	if bytes.Equal(bytes.TrimSpace(rawArtifacts), []byte("null")) {
		registry.Artifacts = []domain.RegistryArtifact{}
	}
	return registry, nil
}

// LoadQueueState reads the queue-state document. A missing or empty file is an empty queue.
func LoadQueueState(path string) (domain.QueueStateDocument, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.QueueStateDocument{}, fmt.Errorf("queue state: %w", ErrMissingPath)
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyQueueState(), nil
	}
	if err != nil {
		return domain.QueueStateDocument{}, fmt.Errorf("read queue state %q: %w", path, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return emptyQueueState(), nil
	}
	var doc domain.QueueStateDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return domain.QueueStateDocument{}, fmt.Errorf("decode queue state %q: %w: %v", path, ErrMalformedQueue, err)
	}
	if doc.Entries == nil {
		doc.Entries = []domain.QueueEntry{}
	}
	return doc, nil
}

// LoadTelemetry reads NDJSON cycle snapshots. Malformed lines are skipped and reported as warnings.
func LoadTelemetry(path string) ([]domain.CycleSnapshot, []string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil, fmt.Errorf("telemetry: %w", ErrMissingPath)
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	var (
		cycles   []domain.CycleSnapshot
		warnings []string
		lineNo   int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTelemetryLine)
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var cycle domain.CycleSnapshot
		if err := json.Unmarshal(line, &cycle); err != nil {
			warnings = append(warnings, fmt.Sprintf("telemetry line %d skipped: %v", lineNo, err))
			continue
		}
		cycles = append(cycles, cycle)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan telemetry %q: %w", path, err)
	}
	return cycles, warnings, nil
}

func emptyQueueState() domain.QueueStateDocument {
	return domain.QueueStateDocument{
		SchemaVersion: domain.QueueStateSchemaVersion,
		Entries:       []domain.QueueEntry{},
	}
}
