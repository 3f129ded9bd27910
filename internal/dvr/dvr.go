// Package dvr implements the recording-file listing and removal
// operations of SPEC_FULL.md's supplemented features: the
// dvrFiles/removeDvrFile surface §6 exposes over the FLV recordings
// internal/supervisor writes under the SRS HTTP static directory.
package dvr

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mrecords121/ephyr/internal/errors"
)

const componentName = "dvr"

// File describes one recorded segment on disk.
type File struct {
	Name    string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Store roots all DVR file operations at baseDir/restreamKey/outputID, the
// layout internal/supervisor.RecordingPath renders.
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir (the SRS dvr_path prefix rendered
// by internal/srsconf).
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// List returns every recorded file for a given restream key and output id,
// most recent first.
func (s *Store) List(restreamKey string, outputID uuid.UUID) ([]File, error) {
	dir, err := s.resolve(restreamKey, outputID, "")
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []File{}, nil
	}
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryPersistence).Component(componentName).Build()
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), SizeBytes: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	return files, nil
}

// Remove deletes a single recorded file by name.
func (s *Store) Remove(restreamKey string, outputID uuid.UUID, name string) error {
	path, err := s.resolve(restreamKey, outputID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Component(componentName).
			Context("path", path).Build()
	}
	return nil
}

// resolve joins the restream key, output id and file name under baseDir,
// rejecting any component that would escape it (path traversal guard: no
// "..", no absolute paths, no name containing a separator).
func (s *Store) resolve(restreamKey string, outputID uuid.UUID, name string) (string, error) {
	if err := rejectTraversal(restreamKey); err != nil {
		return "", err
	}
	if name != "" {
		if err := rejectTraversal(name); err != nil {
			return "", err
		}
	}

	dir := filepath.Join(s.baseDir, restreamKey, outputID.String())
	if name == "" {
		return dir, nil
	}

	full := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errors.Wrap(errors.CategoryValidation, componentName, "path escapes dvr directory: %q", name)
	}
	return full, nil
}

func rejectTraversal(component string) error {
	if component == "" || component == "." || component == ".." ||
		strings.ContainsAny(component, "/\\") {
		return errors.Wrap(errors.CategoryValidation, componentName, "invalid path component: %q", component)
	}
	return nil
}
