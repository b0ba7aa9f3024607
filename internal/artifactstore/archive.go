// Package artifactstore implements the Artifact Store Client (§4.3):
// download of the input archive and streaming ZIP64 upload of the output
// directory, both via signed URLs obtained from the API. Grounded on the
// teacher's "never materialize more than necessary" streaming discipline
// (§9 "File streaming").
package artifactstore

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// ExtractZip extracts the zip archive at src into destDir, reproducing the
// same file set and contents (§8 property 7, archive round-trip).
func ExtractZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return errors.Wrapf(err, "opening archive %q", src)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !withinDir(destDir, target) {
			return errors.Errorf("zip entry %q escapes destination directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		if err := extractFile(f, target); err != nil {
			return errors.Wrapf(err, "extracting %q", f.Name)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func withinDir(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[0] == '.' && rel[1] == '.' && os.IsPathSeparator(rel[2])
}

// WalkFilesDeterministic lists every regular file under root, in a stable
// (lexicographically sorted by relative path) order, so that a zip built
// from it is reproducible and upload progress is deterministic.
func WalkFilesDeterministic(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
