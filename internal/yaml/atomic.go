// Package yaml provides validated, atomic writes for inboxd's config and
// seed files.
package yaml

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

const backupExt = ".bak"

// AtomicWrite marshals v and replaces path atomically.
func AtomicWrite(path string, v any) error {
	content, err := yamlv3.Marshal(v)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return AtomicWriteRaw(path, content)
}

// AtomicWriteRaw validates content as YAML, stages it in a temp file in the
// target directory, keeps a .bak of any previous file, and renames into
// place. The same-directory rename is what makes the swap atomic; a crash
// leaves either the old file or the new one, never a torn write.
func AtomicWriteRaw(path string, content []byte) error {
	var doc any
	if err := yamlv3.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("refusing to write invalid yaml to %s: %w", path, err)
	}

	tmpName, err := stageTemp(filepath.Dir(path), content)
	if err != nil {
		return err
	}
	// No-op once the rename below has moved the file.
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+backupExt); err != nil {
			return fmt.Errorf("back up %s: %w", path, err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// stageTemp writes content to a fsynced temp file in dir and returns its
// name. The caller removes it after the rename, or on failure.
func stageTemp(dir string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, ".inboxd-tmp-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
