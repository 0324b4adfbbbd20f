package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Folder is the folder-state of a prompt file. A file's folder encodes its
// human-facing status.
type Folder string

const (
	Pending   Folder = "pending"
	Processed Folder = "processed"
	Archived  Folder = "archived"
	Deferred  Folder = "deferred"
)

// Folders lists every folder-state in scan order.
var Folders = []Folder{Pending, Processed, Archived, Deferred}

// Valid reports whether f is a known folder-state.
func (f Folder) Valid() bool {
	switch f {
	case Pending, Processed, Archived, Deferred:
		return true
	}
	return false
}

// LocalFile is a prompt file that mirrors a remote item.
type LocalFile struct {
	// Path is the absolute path of the file.
	Path string

	// Folder is the folder-state the file currently lives in.
	Folder Folder

	// Frontmatter holds the parsed metadata block.
	Frontmatter *Frontmatter
}

// PageID returns the id of the mirrored remote item.
func (f *LocalFile) PageID() string {
	return f.Frontmatter.Get(KeyPageID)
}

// LastStatus returns the folder name recorded at the last reverse sync.
func (f *LocalFile) LastStatus() string {
	return f.Frontmatter.Get(KeyLastStatus)
}

// LastSynced returns the timestamp of the last reverse sync, if any.
func (f *LocalFile) LastSynced() string {
	return f.Frontmatter.Get(KeyLastSynced)
}

// ReadLocalFile reads and parses one prompt file.
func ReadLocalFile(path string, folder Folder) (*LocalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}
	fm, _, _ := ParseFrontmatter(string(data))
	return &LocalFile{Path: path, Folder: folder, Frontmatter: fm}, nil
}

// WriteFile writes content atomically via a temp file in the same
// directory.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".nsma-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}

// UpdateFileFrontmatter rewrites the frontmatter block of the file at path
// with updates applied. The body is left untouched.
func UpdateFileFrontmatter(path string, updates map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return WriteFile(path, RewriteFrontmatter(string(data), updates, KeyLastSynced, KeyLastStatus))
}

// FolderPath returns the directory for a folder-state under root.
func FolderPath(root string, folder Folder) string {
	return filepath.Join(root, string(folder))
}

// EnsureFolders creates the folder skeleton under root.
func EnsureFolders(root string) error {
	for _, f := range Folders {
		if err := os.MkdirAll(FolderPath(root, f), 0755); err != nil {
			return fmt.Errorf("failed to create %s folder: %w", f, err)
		}
	}
	return nil
}

// CountFolders counts the markdown files in each folder. Missing folders
// count as zero.
func CountFolders(root string) (map[Folder]int, error) {
	counts := make(map[Folder]int, len(Folders))
	for _, f := range Folders {
		entries, err := os.ReadDir(FolderPath(root, f))
		if err != nil {
			if os.IsNotExist(err) {
				counts[f] = 0
				continue
			}
			return nil, fmt.Errorf("failed to read %s folder: %w", f, err)
		}
		n := 0
		for _, e := range entries {
			if !e.IsDir() && isMarkdown(e.Name()) {
				n++
			}
		}
		counts[f] = n
	}
	return counts, nil
}

// MoveToFolder moves the file at path into folder under root and returns
// the new path.
func MoveToFolder(path, root string, folder Folder) (string, error) {
	if err := os.MkdirAll(FolderPath(root, folder), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s folder: %w", folder, err)
	}
	dest := filepath.Join(FolderPath(root, folder), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", filepath.Base(path), folder, err)
	}
	return dest, nil
}

func isMarkdown(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md") && !strings.HasPrefix(name, ".")
}
