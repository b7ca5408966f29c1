package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
)

// renameFile is swapped in tests to simulate a crash before the commit point.
var renameFile = os.Rename

// Store is a single JSON document on disk with a .bak sibling.
type Store struct {
	path string

	mu  sync.Mutex
	doc Document
}

// Open loads the document at path, creating the parent directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeStoreIO, "create store dir for %s", path)
	}
	s := &Store{path: path}
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Path returns the live file path.
func (s *Store) Path() string { return s.path }

func (s *Store) backupPath() string { return s.path + ".bak" }
func (s *Store) tempPath() string   { return s.path + ".tmp" }

// Load reads the live document, falling back to the backup and then to an
// empty document. Corruption is never returned as an error; unreadable files are.
func (s *Store) Load() (Document, error) {
	doc, err := readDocument(s.path)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, fs.ErrNotExist):
		return NewDocument(), nil
	case !isCorrupt(err):
		return Document{}, apperrors.Wrapf(err, apperrors.CodeStoreIO, "read %s", s.path)
	}
	slog.Warn("persisted document corrupt, trying backup", "path", s.path, "error", err)

	doc, bakErr := readDocument(s.backupPath())
	if bakErr == nil {
		if err := copyFile(s.backupPath(), s.path); err != nil {
			slog.Error("failed to restore backup as live document", "error", err)
		} else {
			slog.Info("restored persisted document from backup", "path", s.backupPath())
		}
		return doc, nil
	}
	if !errors.Is(bakErr, fs.ErrNotExist) && !isCorrupt(bakErr) {
		return Document{}, apperrors.Wrapf(bakErr, apperrors.CodeStoreIO, "read %s", s.backupPath())
	}

	slog.Warn("persisted document and backup unusable, starting fresh; history lost",
		"path", s.path, "backup_error", bakErr)
	return NewDocument(), nil
}

// Save atomically replaces the live document with doc.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *Store) saveLocked(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode document")
	}

	tmp := s.tempPath()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if err := writeFileSync(tmp, data); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStoreIO, "write %s", tmp)
	}
	if _, err := readDocument(tmp); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreIO, "validate written document")
	}
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStoreIO, "backup live document")
		}
	}
	if err := renameFile(tmp, s.path); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStoreIO, "commit document")
	}
	committed = true
	s.doc = doc
	return nil
}

// Document returns the last loaded or saved document.
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

type corruptError struct{ err error }

func (e *corruptError) Error() string { return e.err.Error() }
func (e *corruptError) Unwrap() error { return e.err }

func isCorrupt(err error) bool {
	var c *corruptError
	return errors.As(err, &c)
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	doc, err := decode(data)
	if err != nil {
		return Document{}, &corruptError{err: err}
	}
	return doc, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
