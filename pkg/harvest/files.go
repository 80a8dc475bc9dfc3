package harvest

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

// FileSource lists and opens the files of run folders
type FileSource struct {
	fs afero.Fs
}

// NewFileSource wraps an afero filesystem. A nil fs means the OS filesystem.
func NewFileSource(fs afero.Fs) *FileSource {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSource{fs: fs}
}

// List returns the regular file names in folder, in natural order
func (s *FileSource) List(folder string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list run folder %s: %w", folder, err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	SortNatural(names)
	return names, nil
}

// Open opens a file of a run folder for reading
func (s *FileSource) Open(folder, name string) (io.ReadCloser, error) {
	f, err := s.fs.Open(filepath.Join(folder, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Fs exposes the underlying filesystem
func (s *FileSource) Fs() afero.Fs {
	return s.fs
}

// SortNatural sorts names so that embedded numbers compare by value ("rep_2" < "rep_10")
func SortNatural(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return natural.Less(names[i], names[j])
	})
}
