// Package dataset stores per-identity sample partitions on disk.
//
// Layout: <root>/<identity>/NNN.jpg, one normalized grayscale face per file,
// numbered from 001.
package dataset

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/facette/natsort"
)

var (
	// ErrInvalidIdentity is returned for keys that cannot name a partition.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrSampleIndex is returned for sample numbers outside 1..999.
	ErrSampleIndex = errors.New("sample index out of range")
)

// sampleExts are the extensions treated as samples.
var sampleExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Store manages the dataset root.
type Store struct {
	root    string
	quality int
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string) *Store {
	return &Store{root: root, quality: 95}
}

// Root returns the dataset root directory.
func (s *Store) Root() string {
	return s.root
}

// ValidateIdentity checks that id is usable as a single path element.
func ValidateIdentity(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentity, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidIdentity, id)
	}
	return nil
}

// PartitionPath returns the directory for id.
func (s *Store) PartitionPath(id string) (string, error) {
	if err := ValidateIdentity(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// SampleName returns the file name for the n-th sample (1-based).
func SampleName(n int) string {
	return fmt.Sprintf("%03d.jpg", n)
}

// Reset creates the partition for id and removes any existing samples.
func (s *Store) Reset(id string) error {
	dir, err := s.PartitionPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	samples, err := s.Samples(id)
	if err != nil {
		return err
	}
	for _, p := range samples {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old sample: %w", err)
		}
	}
	return nil
}

// SaveSample writes img as the n-th sample of id and returns its path.
// The file appears atomically.
func (s *Store) SaveSample(id string, n int, img image.Image) (string, error) {
	if n < 1 || n > 999 {
		return "", fmt.Errorf("%w: %d", ErrSampleIndex, n)
	}
	dir, err := s.PartitionPath(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create partition: %w", err)
	}

	path := filepath.Join(dir, SampleName(n))
	tmp, err := os.CreateTemp(dir, ".sample-*")
	if err != nil {
		return "", fmt.Errorf("failed to create sample: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to encode sample: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write sample: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to store sample: %w", err)
	}
	return path, nil
}

// Partitions lists identity partitions in lexicographic order. Entries that
// are not directories or not valid identities are skipped.
func (s *Store) Partitions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list dataset: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || ValidateIdentity(e.Name()) != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Samples lists the sample files of id in natural order.
func (s *Store) Samples(id string) ([]string, error) {
	dir, err := s.PartitionPath(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list partition: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if sampleExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	natsort.Sort(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// Count returns the number of samples stored for id.
func (s *Store) Count(id string) (int, error) {
	samples, err := s.Samples(id)
	return len(samples), err
}

// Remove deletes the partition of id. A missing partition is not an error.
func (s *Store) Remove(id string) error {
	dir, err := s.PartitionPath(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove partition: %w", err)
	}
	return nil
}

// LoadImage decodes a sample or any other image file.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// LabelMapping returns the mapping over all current partitions.
func (s *Store) LabelMapping() (*LabelMapping, error) {
	ids, err := s.Partitions()
	if err != nil {
		return nil, err
	}
	return NewLabelMapping(ids), nil
}
