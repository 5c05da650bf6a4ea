package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathOutsideWorkspace = errors.New("path outside workspace")

// Workspace 把工具的文件访问限制在一个根目录内，路径先做符号链接解析
// 再做包含性检查。
// Workspace confines tool file access to one root directory; paths are
// symlink-resolved before the containment check.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs
	}
	return &Workspace{root: resolved}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Resolve 把相对路径解析到工作区内的绝对路径，越界返回 ErrPathOutsideWorkspace。
// Resolve maps a path into the workspace, rejecting escapes.
func (w *Workspace) Resolve(path string) (string, error) {
	target := path
	if strings.TrimSpace(target) == "" {
		target = w.root
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}

	clean := filepath.Clean(target)
	resolved, err := resolveWithParentSymlink(clean)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrPathOutsideWorkspace
	}
	return resolved, nil
}

// resolveWithParentSymlink 目标不存在时退一级解析父目录，允许写入新文件。
// resolveWithParentSymlink falls back to the parent directory so new files
// can be created under the workspace.
func resolveWithParentSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}

	parent := filepath.Dir(path)
	parentResolved, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		if !errors.Is(perr, os.ErrNotExist) {
			return "", fmt.Errorf("resolve parent symlink: %w", perr)
		}
		parentResolved = parent
	}
	return filepath.Join(parentResolved, filepath.Base(path)), nil
}
