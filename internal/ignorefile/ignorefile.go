// Package ignorefile loads .nsyteignore-style gitignore rules for the
// file scanner, adapted from the teacher's internal/ helper convention of
// keeping parsing concerns out of the package that consumes them
// (internal/requestutil, internal/dcontext).
package ignorefile

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher answers whether a scanner-relative path (no leading slash, "/"
// separators, directories suffixed with "/") is ignored.
type Matcher interface {
	MatchesPath(path string) bool
}

// Load builds a Matcher from the built-in defaults, any extra patterns
// the caller supplies, and root's .nsyteignore file if present.
func Load(root string, extra []string) (Matcher, error) {
	patterns := append(append([]string{}, defaultPatterns...), extra...)

	if contents, err := os.ReadFile(filepath.Join(root, ".nsyteignore")); err == nil {
		patterns = append(patterns, strings.Split(string(contents), "\n")...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return gitignore.CompileIgnoreLines(patterns...), nil
}

// defaultPatterns covers hidden files, VCS metadata, and editor backups.
var defaultPatterns = []string{
	".*",
	".git/",
	".svn/",
	".hg/",
	"*~",
	"*.swp",
	"*.swo",
}
