package artifactstore

import (
	"archive/zip"
	"compress/flate"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// fastCompressionLevel matches §4.3's "compression level defaults to fast
// (≈1)" contract.
const fastCompressionLevel = 1

// ZipDirStream returns a reader that lazily zips root as it is read: files
// are walked once in deterministic order, members and archives over 4 GiB
// get ZIP64 records from archive/zip, and the archive is never fully materialized
// in memory or on disk (§4.3, §9 "File streaming"). Close must be called
// to release the writer goroutine.
//
// totalBytes, once the returned reader is fully drained, holds the number
// of archive bytes produced.
func ZipDirStream(root string) (r io.ReadCloser, totalBytes *int64, err error) {
	files, err := WalkFilesDeterministic(root)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "walking %q", root)
	}

	pr, pw := io.Pipe()
	counter := &countingWriter{w: pw}
	zw := zip.NewWriter(counter)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, fastCompressionLevel)
	})

	go func() {
		err := writeZipMembers(zw, root, files)
		closeErr := zw.Close()
		if err == nil {
			err = closeErr
		}
		_ = pw.CloseWithError(err)
	}()

	return pr, &counter.total, nil
}

func writeZipMembers(zw *zip.Writer, root string, files []string) error {
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate
		// ZIP64 is not forced per member: archive/zip writes ZIP64
		// records only for members (and the central directory) whose
		// sizes or offsets exceed the 32-bit limits, so smaller members
		// carry plain headers.
		header.SetModTime(info.ModTime())

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(w, f)
		f.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

type countingWriter struct {
	w     io.Writer
	total int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.total += int64(n)
	return n, err
}
