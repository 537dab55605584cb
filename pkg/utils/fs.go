package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyDir recursively copies src into dst, skipping any entry whose name is
// in the ignore set. The skip applies at every directory level, matching the
// snapshot and workspace copy semantics. dst is created if missing.
func CopyDir(src, dst string, ignore map[string]struct{}) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}

	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read source %s: %w", src, err)
	}

	for _, entry := range entries {
		if _, skip := ignore[entry.Name()]; skip {
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := CopyDir(srcPath, dstPath, ignore); err != nil {
				return err
			}
			continue
		}

		// Symlinks and other non-regular files are skipped rather than
		// followed; a workspace copy never needs to escape its tree.
		if !entry.Type().IsRegular() {
			continue
		}

		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	return nil
}

// RemoveTopLevel removes every top-level entry of dir whose name is not in
// the ignore set. Used by snapshot revert to clear the working tree while
// leaving control directories in place.
func RemoveTopLevel(dir string, ignore map[string]struct{}) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if _, skip := ignore[entry.Name()]; skip {
			continue
		}
		entryPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(entryPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entryPath, err)
		}
	}

	return nil
}
