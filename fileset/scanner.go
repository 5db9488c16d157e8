// Package fileset implements the Hasher & File Scanner: it walks a local
// directory honoring an ignore file, and produces the local FileEntry set
// the diff engine compares against remote state (spec §4.1).
package fileset

import (
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandwichfarm/nsyte-deploy/digest"
	"github.com/sandwichfarm/nsyte-deploy/internal/ignorefile"
)

// FileEntry is a local or remote file record (spec §3). Bytes is nil
// until Load loads it; every entry returned by Scan has SHA256, Size,
// and ContentType populated, and Bytes populated unless LazyLoad is set.
type FileEntry struct {
	Path        string // site-absolute, leading slash, original case
	Size        int64
	ContentType string
	SHA256      string
	Bytes       []byte
	absPath     string // scanner-internal: where to (re)read bytes from
}

// Load reads the file's bytes from disk if not already held, for callers
// that scanned with LazyLoad to bound memory (spec §4.1 Output).
func (f *FileEntry) Load() error {
	if f.Bytes != nil {
		return nil
	}
	b, err := os.ReadFile(f.absPath)
	if err != nil {
		return err
	}
	if !digest.Verify(b, f.SHA256) {
		return fmt.Errorf("fileset: %s changed on disk since it was scanned", f.Path)
	}
	f.Bytes = b
	return nil
}

// Release drops the byte buffer so the orchestrator can free memory once
// every server job for this file has finished (spec §4.7 Backpressure).
func (f *FileEntry) Release() { f.Bytes = nil }

// ScanError is a non-fatal per-file error collected during Scan.
type ScanError struct {
	Path string
	Err  error
}

func (e ScanError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

// Options configures a Scan.
type Options struct {
	// LazyLoad defers holding file bytes; Scan still reads each whole file
	// once to compute SHA256, then discards the buffer.
	LazyLoad bool
	// ExtraIgnorePatterns are appended to the ignore file (if any) and
	// the built-in defaults.
	ExtraIgnorePatterns []string
}

// Result is the outcome of a Scan.
type Result struct {
	Files   []FileEntry
	Ignored []string // site-absolute paths excluded by ignore rules
	Errors  []ScanError
}

// Scan walks root, skipping anything matched by .nsyteignore (if present)
// plus the built-in defaults, and returns one FileEntry per remaining
// regular file. Scan fails only if root itself is inaccessible;
// individual unreadable files are reported in Result.Errors without
// aborting the walk (spec §4.1 Errors).
func Scan(root string, opts Options) (Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Result{}, fmt.Errorf("fileset: resolving root: %w", err)
	}
	if _, err := os.Stat(absRoot); err != nil {
		return Result{}, fmt.Errorf("fileset: root inaccessible: %w", err)
	}

	matcher, err := ignorefile.Load(absRoot, opts.ExtraIgnorePatterns)
	if err != nil {
		return Result{}, fmt.Errorf("fileset: loading ignore rules: %w", err)
	}

	var res Result

	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == absRoot {
				return walkErr
			}
			rel, _ := filepath.Rel(absRoot, p)
			res.Errors = append(res.Errors, ScanError{Path: toSitePath(rel), Err: walkErr})
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		sitePath := toSitePath(rel)

		if d.IsDir() {
			if matcher.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if matcher.MatchesPath(rel) {
			res.Ignored = append(res.Ignored, sitePath)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			res.Errors = append(res.Errors, ScanError{Path: sitePath, Err: err})
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(p)
			if err != nil || !strings.HasPrefix(target, absRoot) {
				res.Errors = append(res.Errors, ScanError{Path: sitePath, Err: fmt.Errorf("symlink escapes target root")})
				return nil
			}
		}

		entry, err := buildEntry(p, sitePath, info.Size(), opts.LazyLoad)
		if err != nil {
			res.Errors = append(res.Errors, ScanError{Path: sitePath, Err: err})
			return nil
		}
		res.Files = append(res.Files, entry)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("fileset: walking %s: %w", absRoot, err)
	}

	return res, nil
}

func buildEntry(absPath, sitePath string, size int64, lazy bool) (FileEntry, error) {
	b, err := os.ReadFile(absPath)
	if err != nil {
		return FileEntry{}, err
	}
	sum := digest.SHA256Bytes(b)
	entry := FileEntry{
		Path:        sitePath,
		Size:        size,
		ContentType: contentTypeFor(sitePath, b),
		SHA256:      sum,
		absPath:     absPath,
	}
	if !lazy {
		entry.Bytes = b
	}
	return entry, nil
}

func contentTypeFor(path string, sample []byte) string {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return stripParams(ct)
	}
	if ct := http.DetectContentType(sample); ct != "" {
		return stripParams(ct)
	}
	return "application/octet-stream"
}

func stripParams(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		return strings.TrimSpace(ct[:i])
	}
	return ct
}

// toSitePath converts an OS-relative path to the site-absolute,
// forward-slash form (spec §4.1 Output), preserving display case.
func toSitePath(rel string) string {
	p := filepath.ToSlash(rel)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
