package immigrant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// candidateDoc is the on-disk JSON form of a Candidate.
type candidateDoc struct {
	Spec       json.RawMessage `json:"spec,omitempty"`
	Expression json.RawMessage `json:"expression,omitempty"`
	Supporting json.RawMessage `json:"supporting,omitempty"`
	Source     string          `json:"source,omitempty"`
}

// DirectorySource proposes candidates from JSON files dropped into a
// directory. Consumed files move to a processed/ subdirectory so each
// candidate is offered once; files that fail to parse move there too,
// otherwise a bad file would be retried every generation.
type DirectorySource struct {
	dir string
	log zerolog.Logger
}

// NewDirectorySource watches dir for candidate files.
func NewDirectorySource(dir string, log zerolog.Logger) *DirectorySource {
	return &DirectorySource{
		dir: dir,
		log: log.With().Str("component", "immigrant_dir").Logger(),
	}
}

// Propose reads up to count candidate files in name order.
func (d *DirectorySource) Propose(_ context.Context, count int) ([]Candidate, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read candidate directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	processedDir := filepath.Join(d.dir, "processed")
	candidates := make([]Candidate, 0, count)
	for _, name := range names {
		if len(candidates) >= count {
			break
		}
		path := filepath.Join(d.dir, name)
		cand, err := d.readCandidate(path)
		if err != nil {
			d.log.Warn().Err(err).Str("file", name).Msg("Discarding unreadable candidate file")
		} else {
			candidates = append(candidates, cand)
		}
		if err := moveToProcessed(path, processedDir, name); err != nil {
			d.log.Error().Err(err).Str("file", name).Msg("Failed to archive candidate file")
		}
	}
	return candidates, nil
}

func (d *DirectorySource) readCandidate(path string) (Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Candidate{}, err
	}

	var doc candidateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Candidate{}, fmt.Errorf("parse candidate: %w", err)
	}

	cand := Candidate{Source: doc.Source}
	if doc.Spec != nil {
		if err := json.Unmarshal(doc.Spec, &cand.Spec); err != nil {
			return Candidate{}, fmt.Errorf("parse candidate spec: %w", err)
		}
	}
	if doc.Expression != nil {
		if err := json.Unmarshal(doc.Expression, &cand.Expression); err != nil {
			return Candidate{}, fmt.Errorf("parse candidate expression: %w", err)
		}
	}
	if doc.Supporting != nil {
		if err := json.Unmarshal(doc.Supporting, &cand.Supporting); err != nil {
			return Candidate{}, fmt.Errorf("parse candidate supporting factors: %w", err)
		}
	}
	return cand, nil
}

func moveToProcessed(path, processedDir, name string) error {
	if err := os.MkdirAll(processedDir, 0755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(processedDir, name))
}
