// Package sources streams documents out of gzip-compressed tar archives
// produced by the harvesting stage, without extracting the archive to disk.
package sources

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"strings"
)

// ErrEntryTooLarge is wrapped into the per-entry error when an archive member
// exceeds the configured size cap.
var ErrEntryTooLarge = errors.New("archive entry exceeds size cap")

// Entry is one document pulled from an archive.
type Entry struct {
	// Name is the member name inside the archive.
	Name string
	// DocID is the stable identifier derived from Name.
	DocID string
	// Data holds the raw document bytes.
	Data []byte
}

// DocID derives the stable document identifier from an archive member name:
// the hex SHA-256 of the full base name, truncated to 32 chars. The extension
// is part of the hash, so report.doc and report.docx in one archive get
// distinct ids and distinct output records.
func DocID(name string) string {
	sum := sha256.Sum256([]byte(path.Base(name)))
	return hex.EncodeToString(sum[:])[:32]
}

// IsDocument reports whether an archive member name looks like a
// word-processor document. The extension is only used to skip obvious
// non-documents (manifests, checksums); format detection proper happens on
// the magic bytes later.
func IsDocument(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".doc", ".docx":
		return true
	}
	return false
}

// Archive reads entries from one .tar.gz shard archive.
type Archive struct {
	path     string
	maxBytes int64
}

// Open validates that the archive exists and is readable. The file is
// re-opened on every iteration, so an Archive can be scanned multiple times.
// maxBytes caps the size of a single entry; zero means no cap.
func Open(path string, maxBytes int64) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// Probe the gzip header so unreadable archives fail at open time, not
	// halfway through a shard.
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("archive %s: not a gzip stream: %w", path, err)
	}
	zr.Close()
	f.Close()
	return &Archive{path: path, maxBytes: maxBytes}, nil
}

// Path returns the archive path.
func (a *Archive) Path() string { return a.path }

// Name returns the archive base name, used as the source shard id.
func (a *Archive) Name() string { return path.Base(a.path) }

// Entries returns a lazy sequence of (Entry, error) pairs. A non-nil error
// with a non-empty Entry.Name is a per-entry failure (oversized or corrupt
// member) and iteration continues; a non-nil error with an empty Entry means
// the archive stream itself broke and iteration stops. Directories and
// non-regular members are skipped silently.
func (a *Archive) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		f, err := os.Open(a.path)
		if err != nil {
			yield(Entry{}, fmt.Errorf("open archive %s: %w", a.path, err))
			return
		}
		defer f.Close()

		zr, err := gzip.NewReader(f)
		if err != nil {
			yield(Entry{}, fmt.Errorf("archive %s: %w", a.path, err))
			return
		}
		defer zr.Close()

		tr := tar.NewReader(zr)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Entry{}, fmt.Errorf("archive %s: read header: %w", a.path, err))
				return
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}

			name := hdr.Name
			if a.maxBytes > 0 && hdr.Size > a.maxBytes {
				e := Entry{Name: name, DocID: DocID(name)}
				err := fmt.Errorf("%s: %d bytes: %w", name, hdr.Size, ErrEntryTooLarge)
				if !yield(e, err) {
					return
				}
				continue
			}

			data, err := io.ReadAll(tr)
			if err != nil {
				e := Entry{Name: name, DocID: DocID(name)}
				if !yield(e, fmt.Errorf("%s: read: %w", name, err)) {
					return
				}
				continue
			}

			if !yield(Entry{Name: name, DocID: DocID(name), Data: data}, nil) {
				return
			}
		}
	}
}
