// Package utils provides path pattern and filesystem helpers
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileSystemUtils provides file system operations over an afero.Fs so that
// callers can be exercised against an in-memory filesystem.
type FileSystemUtils struct {
	fs afero.Fs
}

// NewFileSystemUtils creates a new filesystem utils instance. A nil fs
// means the OS filesystem.
func NewFileSystemUtils(fs afero.Fs) *FileSystemUtils {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSystemUtils{fs: fs}
}

// Fs returns the underlying filesystem
func (f *FileSystemUtils) Fs() afero.Fs {
	return f.fs
}

// Exists checks if a path exists
func (f *FileSystemUtils) Exists(path string) bool {
	ok, err := afero.Exists(f.fs, path)
	return err == nil && ok
}

// IsDirectory checks if a path is a directory
func (f *FileSystemUtils) IsDirectory(path string) bool {
	ok, err := afero.IsDir(f.fs, path)
	return err == nil && ok
}

// IsFile checks if a path exists and is not a directory
func (f *FileSystemUtils) IsFile(path string) bool {
	info, err := f.fs.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDirectory creates a directory with all parents
func (f *FileSystemUtils) EnsureDirectory(path string) error {
	return f.fs.MkdirAll(path, 0o755)
}

// RemoveAll removes a path and all contents
func (f *FileSystemUtils) RemoveAll(path string) error {
	return f.fs.RemoveAll(path)
}

// ReadFile reads the entire file
func (f *FileSystemUtils) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

// WriteFile writes data to a file atomically, creating parent directories
func (f *FileSystemUtils) WriteFile(path string, data []byte) error {
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := afero.WriteFile(f.fs, tempFile, data, 0o644); err != nil {
		return err
	}
	return f.fs.Rename(tempFile, path)
}

// CopyFile copies a file from src to dst keeping its permissions
func (f *FileSystemUtils) CopyFile(src, dst string) error {
	sourceFile, err := f.fs.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	if err := f.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	destFile, err := f.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return f.fs.Chmod(dst, sourceInfo.Mode().Perm())
}

// CopyTree copies src into dst. keep receives each slash-separated path
// relative to src; returning false skips the file or the whole directory.
// It returns the number of files copied.
func (f *FileSystemUtils) CopyTree(src, dst string, keep func(rel string, isDir bool) bool) (int, error) {
	copied := 0
	err := afero.Walk(f.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return f.fs.MkdirAll(dst, 0o755)
		}

		rel = filepath.ToSlash(rel)
		if keep != nil && !keep(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, filepath.FromSlash(rel))
		if info.IsDir() {
			return f.fs.MkdirAll(target, 0o755)
		}

		if err := f.CopyFile(path, target); err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		copied++
		return nil
	})
	return copied, err
}

// RelativeSlashPath returns target relative to base with '/' separators
func RelativeSlashPath(base, target string) (string, error) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
