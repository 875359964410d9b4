package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ianrichard/agentservice/config"
	"github.com/ianrichard/agentservice/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"path"}, map[string]string{"path": "Path of the file to read."})
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	if _, err := checkVisible(path, t.fsAccess); err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return objectSchema([]string{"path", "content"}, map[string]string{
		"path":    "Path of the file to write.",
		"content": "New content of the file.",
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := stringArg(args, "path")
	content, contentOk := stringArg(args, "content")
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	rel, err := checkVisible(path, t.fsAccess)
	if err != nil {
		return "", err
	}
	readOnly, err := isPathRestricted(rel, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListFilesTool lists the entries of a directory, hiding restricted paths.
type ListFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "Lists the files in a directory. Args: path (string, defaults to the current directory)."
}

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return objectSchema(nil, map[string]string{"path": "Directory to list."})
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	dir, ok := stringArg(args, "path")
	if !ok || dir == "" {
		dir = "."
	}
	relDir, err := checkVisible(dir, t.fsAccess)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory '%s'", dir)
	}

	var lines []string
	for _, e := range entries {
		rel := filepath.ToSlash(filepath.Join(relDir, e.Name()))
		if hidden, _ := isPathRestricted(rel, t.fsAccess.Hidden); hidden {
			continue
		}
		if hidden, _ := isPathRestricted(e.Name(), t.fsAccess.Hidden); hidden {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	if len(lines) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// checkVisible resolves path against the working directory and rejects it
// when it lies outside that directory or matches a hidden pattern. It returns
// the slash-separated path relative to the working directory.
func checkVisible(path string, fsAccess *config.FilesystemAccess) (string, error) {
	rel, err := workspacePath(path)
	if err != nil {
		return "", err
	}
	hidden, err := isPathRestricted(rel, fsAccess.Hidden)
	if err != nil {
		return "", err
	}
	if hidden {
		return "", errors.New("access denied: path '%s' is hidden", path)
	}
	return rel, nil
}

// workspacePath returns path relative to the working directory, following
// symlinks, or an error when it resolves outside of it.
func workspacePath(path string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrapf(err, "could not get working directory")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "invalid path '%s'", path)
	}
	rel, err := filepath.Rel(resolveSymlinks(wd), resolveSymlinks(abs))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("access denied: path '%s' is outside the working directory", path)
	}
	return filepath.ToSlash(rel), nil
}

// resolveSymlinks evaluates symlinks in p. A path that does not exist yet is
// resolved through its parent directory.
func resolveSymlinks(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	if r, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		return filepath.Join(r, filepath.Base(p))
	}
	return p
}
