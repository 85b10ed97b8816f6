// Package media owns the on-disk layout of the pipeline: one directory per
// acquired item under the media root, an informational sidecar next to each
// raw recording, and a corrected_format/ subdirectory holding normalized
// output ready for upload.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"mediarelay/internal/domain"
)

// NormalizedSubdir is where transform output lands inside an item directory.
const NormalizedSubdir = "corrected_format"

const sidecarName = "info.txt"

var mediaExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mov":  true,
	".m4v":  true,
	".ts":   true,
}

// Store resolves and scans the media tree under a single root directory.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore builds a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// Root returns the media root directory.
func (s *Store) Root() string {
	return s.root
}

// ItemDir creates (if needed) and returns the per-item download directory,
// named <timestamp>_<sanitized title>_<id> so the owning item can be
// recovered from the directory name alone.
func (s *Store) ItemDir(item domain.Item) (string, error) {
	if existing, ok := s.findItemDir(item.ID); ok {
		return existing, nil
	}

	name := fmt.Sprintf("%s_%s_%s",
		s.now().Format("20060102_150405"), Sanitize(item.Title), item.ID)
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create item dir: %w", err)
	}
	return dir, nil
}

func (s *Store) findItemDir(itemID string) (string, bool) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_"+itemID) {
			return filepath.Join(s.root, e.Name()), true
		}
	}
	return "", false
}

// itemIDFromDir recovers the catalog id from an item directory name.
func itemIDFromDir(name string) string {
	idx := strings.LastIndex(name, "_")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}

// WriteSidecar writes the informational info.txt record next to the raw
// recording. The sidecar is not authoritative state; losing it loses nothing
// the ledger tracks.
func (s *Store) WriteSidecar(dir string, item domain.Item, acquiredAt time.Time) error {
	var b strings.Builder
	b.WriteString("MEETING DOWNLOAD INFO\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "Event Number: %s\n", item.ID)
	fmt.Fprintf(&b, "Meeting Title: %s\n", item.Title)
	fmt.Fprintf(&b, "Meeting Date: %s\n", item.SourceDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Video URL: %s\n", item.PageURL)
	fmt.Fprintf(&b, "Download Timestamp: %s\n", acquiredAt.Format("20060102_150405"))
	fmt.Fprintf(&b, "Folder Name: %s\n", filepath.Base(dir))
	b.WriteString(strings.Repeat("=", 40) + "\n")

	if err := os.WriteFile(filepath.Join(dir, sidecarName), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// StatArtifact refreshes size and mtime for a file produced by stage.
func StatArtifact(path string, stage domain.Stage) (domain.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	return domain.Artifact{
		Path:       path,
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime(),
		Stage:      stage,
	}, nil
}

// RawArtifact holds a raw recording awaiting transformation.
type RawArtifact struct {
	ItemID   string
	ItemDir  string
	Artifact domain.Artifact
}

// RawArtifacts scans item directories for raw recordings (media files
// outside corrected_format/). When a directory holds several, the largest
// is taken as the recording.
func (s *Store) RawArtifacts() ([]RawArtifact, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan media root: %w", err)
	}

	var out []RawArtifact
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		itemID := itemIDFromDir(e.Name())
		if itemID == "" {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		artifact, ok, err := largestMediaFile(dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, RawArtifact{ItemID: itemID, ItemDir: dir, Artifact: artifact})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func largestMediaFile(dir string) (domain.Artifact, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.Artifact{}, false, fmt.Errorf("scan %s: %w", dir, err)
	}

	var best domain.Artifact
	found := false
	for _, e := range entries {
		if e.IsDir() || !mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		artifact, err := StatArtifact(filepath.Join(dir, e.Name()), domain.StageAcquire)
		if err != nil {
			return domain.Artifact{}, false, err
		}
		if !found || artifact.SizeBytes > best.SizeBytes {
			best = artifact
			found = true
		}
	}
	return best, found, nil
}

// PublishCandidate is a normalized file eligible for upload. Key is the path
// relative to the media root and matches the publish ledger entries.
type PublishCandidate struct {
	Key      string
	Artifact domain.Artifact
}

// PublishCandidates scans every corrected_format/ subdirectory for mp4
// output files.
func (s *Store) PublishCandidates() ([]PublishCandidate, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan media root: %w", err)
	}

	var out []PublishCandidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		normalized := filepath.Join(s.root, e.Name(), NormalizedSubdir)
		files, err := os.ReadDir(normalized)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", normalized, err)
		}
		for _, f := range files {
			if f.IsDir() || strings.ToLower(filepath.Ext(f.Name())) != ".mp4" {
				continue
			}
			full := filepath.Join(normalized, f.Name())
			artifact, err := StatArtifact(full, domain.StageTransform)
			if err != nil {
				return nil, err
			}
			rel, err := filepath.Rel(s.root, full)
			if err != nil {
				return nil, fmt.Errorf("relativize %s: %w", full, err)
			}
			out = append(out, PublishCandidate{Key: filepath.ToSlash(rel), Artifact: artifact})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Sanitize strips characters unsafe in filenames and caps the length.
func Sanitize(name string) string {
	replaced := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, name)
	replaced = strings.TrimSpace(replaced)
	if len(replaced) > 100 {
		replaced = replaced[:100]
	}
	return replaced
}
