package store

import (
	"bufio"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/stagekit/stagehand/internal/types"
)

// exportLine is one JSONL record. Exactly one of the payload fields is
// set, keyed by Kind.
type exportLine struct {
	Kind    string          `json:"kind"`
	Item    *types.WorkItem `json:"item,omitempty"`
	Project *types.Project  `json:"project,omitempty"`
}

const (
	exportKindItem    = "item"
	exportKindProject = "project"
)

// ExportResult counts what an export wrote.
type ExportResult struct {
	Items    int
	Projects int
}

// ImportResult counts what an import changed. Errors collects per-line
// failures without aborting the rest of the file.
type ImportResult struct {
	ItemsAdded   int
	ItemsUpdated int
	ItemsSkipped int
	Projects     int
	Errors       []string
}

// Export writes the board as JSONL: projects first, then items sorted
// by ID. Pending markers are stripped; an export captures state, not
// in-flight intent.
func (s *Store) Export(w io.Writer) (ExportResult, error) {
	var (
		items    []types.WorkItem
		projects []types.Project
	)
	if err := s.do(func() {
		for _, item := range s.items {
			if s.hiddenByDelete(item) {
				continue
			}
			c := item.Clone()
			c.Pending = nil
			items = append(items, c)
		}
		for _, p := range s.projects {
			projects = append(projects, *p)
		}
	}); err != nil {
		return ExportResult{}, err
	}
	slices.SortFunc(items, func(a, b types.WorkItem) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(projects, func(a, b types.Project) int { return cmp.Compare(a.Name, b.Name) })

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	var res ExportResult
	for i := range projects {
		if err := enc.Encode(exportLine{Kind: exportKindProject, Project: &projects[i]}); err != nil {
			return res, fmt.Errorf("failed to encode project: %w", err)
		}
		res.Projects++
	}
	for i := range items {
		if err := enc.Encode(exportLine{Kind: exportKindItem, Item: &items[i]}); err != nil {
			return res, fmt.Errorf("failed to encode item: %w", err)
		}
		res.Items++
	}
	if err := bw.Flush(); err != nil {
		return res, fmt.Errorf("failed to flush export: %w", err)
	}
	return res, nil
}

// ExportFile exports to path atomically via a temp file and rename.
func (s *Store) ExportFile(path string) (ExportResult, error) {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	res, err := s.Export(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return res, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return res, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return res, nil
}

// ImportFile merges a JSONL export into the board. Records land as
// committed state; an existing item is only replaced when the incoming
// record is strictly newer (sequence first, update time as tiebreak).
func (s *Store) ImportFile(path string) (ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return s.Import(f)
}

// Import reads JSONL records from r and merges them.
func (s *Store) Import(r io.Reader) (ImportResult, error) {
	var (
		items    []types.WorkItem
		projects []types.Project
		res      ImportResult
	)

	decoder := json.NewDecoder(r)
	lineNum := 0
	for {
		var line exportLine
		if err := decoder.Decode(&line); err != nil {
			if err == io.EOF {
				break
			}
			return res, fmt.Errorf("invalid JSON at record %d: %w", lineNum+1, err)
		}
		lineNum++
		switch {
		case line.Kind == exportKindItem && line.Item != nil:
			items = append(items, *line.Item)
		case line.Kind == exportKindProject && line.Project != nil:
			projects = append(projects, *line.Project)
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("record %d: unknown kind %q", lineNum, line.Kind))
		}
	}

	err := s.do(func() {
		for i := range projects {
			p := projects[i]
			if p.ID == "" || p.Name == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("project %q: missing id or name", p.Name))
				continue
			}
			if _, ok := s.projects[p.ID]; ok {
				continue
			}
			taken := false
			for _, existing := range s.projects {
				if existing.Name == p.Name {
					taken = true
					break
				}
			}
			if taken {
				continue
			}
			s.projects[p.ID] = &p
			s.persistProject(&p)
			res.Projects++
		}

		for i := range items {
			in := items[i]
			if in.ID == "" || in.Title == "" {
				res.Errors = append(res.Errors, fmt.Sprintf("item %q: missing id or title", in.ID))
				continue
			}
			in.Pending = nil
			if !s.graph.Known(in.Pipeline, in.Stage) {
				res.Errors = append(res.Errors, fmt.Sprintf("item %s: unknown stage %s/%s", in.ID, in.Pipeline, in.Stage))
				continue
			}

			localID := in.ID
			if in.ExternalID != "" {
				if boundID, ok := s.byExternal[in.ExternalID]; ok {
					localID = boundID
				}
			}
			existing, exists := s.items[localID]
			if exists {
				if existing.Pending != nil {
					res.ItemsSkipped++
					continue
				}
				if !importNewer(&in, existing) {
					res.ItemsSkipped++
					continue
				}
				in.ID = localID
				res.ItemsUpdated++
			} else {
				res.ItemsAdded++
			}

			merged := in.Clone()
			s.items[localID] = &merged
			if merged.ExternalID != "" {
				s.byExternal[merged.ExternalID] = localID
			}
			s.commit(&merged)
		}
		s.dirty = true
	})
	return res, err
}

// importNewer reports whether the incoming record should replace the
// existing one.
func importNewer(in, existing *types.WorkItem) bool {
	if in.Seq != existing.Seq {
		return in.Seq > existing.Seq
	}
	return in.UpdatedAt.After(existing.UpdatedAt)
}
