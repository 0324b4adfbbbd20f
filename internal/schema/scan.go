package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScanError records a file that could not be read during a scan.
type ScanError struct {
	Path string
	Err  error
}

// Scan reads every markdown file in the four folder-states under root.
// Files without a notion_page_id are excluded. Unreadable files are
// returned as ScanErrors and do not stop the scan.
func Scan(root string) ([]*LocalFile, []ScanError, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, nil, fmt.Errorf("prompts path %s: %w", root, err)
	}

	var files []*LocalFile
	var problems []ScanError
	for _, folder := range Folders {
		dir := FolderPath(root, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to read %s folder: %w", folder, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !isMarkdown(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			f, err := ReadLocalFile(path, folder)
			if err != nil {
				problems = append(problems, ScanError{Path: path, Err: err})
				continue
			}
			if f.PageID() == "" {
				continue
			}
			files = append(files, f)
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Folder != files[j].Folder {
			return folderIndex(files[i].Folder) < folderIndex(files[j].Folder)
		}
		return files[i].Path < files[j].Path
	})
	return files, problems, nil
}

// IndexByPageID maps remote item ids to their local files.
func IndexByPageID(files []*LocalFile) map[string]*LocalFile {
	idx := make(map[string]*LocalFile, len(files))
	for _, f := range files {
		if _, dup := idx[f.PageID()]; !dup {
			idx[f.PageID()] = f
		}
	}
	return idx
}

func folderIndex(f Folder) int {
	for i, candidate := range Folders {
		if candidate == f {
			return i
		}
	}
	return len(Folders)
}
