package operator

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/wehubfusion/daedalus/pkg/errors"
	"github.com/wehubfusion/daedalus/pkg/message"
)

// SourceIsURL reports whether the operator source string is a remote URL.
func SourceIsURL(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// ResolveSource locates an operator source on the local filesystem. URL
// sources are downloaded into the build cache at
// build/<node_id>/<operator_id>.<ext> first. The returned path exists and is
// canonical.
func ResolveSource(nodeID message.NodeID, operatorID message.OperatorID, source, ext string) (string, error) {
	path := source
	if SourceIsURL(source) {
		target := filepath.Join("build", string(nodeID), fmt.Sprintf("%s.%s", operatorID, ext))
		if err := downloadFile(source, target); err != nil {
			return "", errors.NewError(errors.CodeResolution,
				"failed to download operator source", err)
		}
		path = target
	}

	if _, err := os.Stat(path); err != nil {
		return "", errors.NewError(errors.CodeResolution,
			fmt.Sprintf("no operator source exists at %s", path), err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewError(errors.CodeResolution,
			fmt.Sprintf("failed to canonicalize %s", path), err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.NewError(errors.CodeResolution,
			fmt.Sprintf("failed to canonicalize %s", path), err)
	}
	if !utf8.ValidString(abs) {
		return "", errors.NewError(errors.CodeResolution,
			"operator source path is not valid utf8", nil)
	}
	return abs, nil
}

// ModuleName returns the interpreter module name for a resolved source path:
// the file stem.
func ModuleName(path string) (string, error) {
	stem := filepath.Base(path)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	if stem == "" || stem == "." {
		return "", errors.NewError(errors.CodeResolution,
			fmt.Sprintf("operator source %s has no file stem", path), nil)
	}
	return stem, nil
}

func downloadFile(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create build cache directory: %w", err)
	}

	resp, err := http.Get(source)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", source, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch %s: unexpected status %s", source, resp.Status)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}
