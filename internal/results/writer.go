package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const stagingPrefix = ".staging-"

// Writer applies plans under a repository root, one subdirectory per task.
type Writer struct {
	root   string
	logger *zap.Logger
}

// ScratchDirPrefix marks temporary directories created by tasks for the files
// they return. The writer removes such a directory once it is empty.
const ScratchDirPrefix = "watchme-download-"

func NewWriter(root string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{root: root, logger: logger.Named("writer")}
}

// Root returns the repository root.
func (w *Writer) Root() string { return w.root }

// Write persists plan into <root>/<uri>/ and returns the written paths
// relative to the root. Items are staged first; if staging fails nothing in
// the task directory changes. Copy-file sources are removed after commit.
// An empty plan writes nothing and creates no directory.
func (w *Writer) Write(uri string, plan Plan) ([]string, error) {
	if plan.Empty() {
		return nil, nil
	}
	if err := checkName(uri); err != nil {
		return nil, fmt.Errorf("task directory: %w", err)
	}

	dir := filepath.Join(w.root, uri)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating task directory: %w", err)
	}

	staging := filepath.Join(dir, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, it := range plan.Items {
		if err := checkName(it.Name); err != nil {
			return nil, err
		}
		if err := w.stage(filepath.Join(staging, it.Name), it, plan.Binary); err != nil {
			return nil, fmt.Errorf("staging %s: %w", it.Name, err)
		}
	}

	written := make([]string, 0, len(plan.Items))
	committed := make(map[string]bool, len(plan.Items))
	for _, it := range plan.Items {
		if committed[it.Name] {
			continue
		}
		committed[it.Name] = true
		target := filepath.Join(dir, it.Name)
		if err := os.Rename(filepath.Join(staging, it.Name), target); err != nil {
			return written, fmt.Errorf("committing %s: %w", it.Name, err)
		}
		written = append(written, filepath.Join(uri, it.Name))
	}

	for _, it := range plan.Items {
		if it.Kind != CopyFile {
			continue
		}
		w.removeSource(it.Source, filepath.Join(dir, it.Name))
	}
	return written, nil
}

func (w *Writer) stage(path string, it Item, binary bool) error {
	switch it.Kind {
	case CopyFile:
		return copyFile(it.Source, path)
	case WriteJSON:
		data := it.Data
		if it.Source != "" {
			loaded, err := readJSON(it.Source)
			if err != nil {
				return err
			}
			data = loaded
		}
		return writeJSON(path, data)
	case WriteText:
		text := it.Text
		if !binary {
			text = strings.ToValidUTF8(text, "�")
		}
		return os.WriteFile(path, []byte(text), 0644)
	default:
		return fmt.Errorf("unknown payload kind %q", it.Kind)
	}
}

func (w *Writer) removeSource(src, target string) {
	a, errA := filepath.Abs(src)
	b, errB := filepath.Abs(target)
	if errA == nil && errB == nil && a == b {
		return
	}
	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove moved source", zap.String("source", src), zap.Error(err))
		return
	}
	// Scratch directories of task downloads go with their last file.
	if dir := filepath.Dir(src); strings.HasPrefix(filepath.Base(dir), ScratchDirPrefix) {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			w.logger.Debug("scratch directory kept", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeJSON encodes data indented with sorted map keys and a trailing newline.
func writeJSON(path string, data any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readJSON(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// checkName rejects names that would escape the task directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

// ValidFileName reports whether name is usable as a target file name.
func ValidFileName(name string) bool {
	return checkName(name) == nil && !strings.HasPrefix(name, stagingPrefix)
}
