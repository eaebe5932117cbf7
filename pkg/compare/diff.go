package compare

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// binarySniffLen matches how much of a file diff inspects for NUL bytes.
const binarySniffLen = 8000

// diffTrees compares two directory trees recursively, in the manner of
// diff -r: one line per entry present on one side only, one line per
// differing binary file, and a header plus unified hunks per differing
// text file.
func diffTrees(a, b string) ([]string, error) {
	var lines []string
	if err := diffDirs(a, b, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func diffDirs(a, b string, lines *[]string) error {
	namesA, err := dirNames(a)
	if err != nil {
		return err
	}
	namesB, err := dirNames(b)
	if err != nil {
		return err
	}

	for _, name := range union(namesA, namesB) {
		pa, pb := filepath.Join(a, name), filepath.Join(b, name)
		if !namesA[name] {
			*lines = append(*lines, fmt.Sprintf("Only in %s: %s", b, name))
			continue
		}
		if !namesB[name] {
			*lines = append(*lines, fmt.Sprintf("Only in %s: %s", a, name))
			continue
		}

		fa, err := os.Stat(pa)
		if err != nil {
			return err
		}
		fb, err := os.Stat(pb)
		if err != nil {
			return err
		}
		switch {
		case fa.IsDir() && fb.IsDir():
			if err := diffDirs(pa, pb, lines); err != nil {
				return err
			}
		case fa.IsDir() != fb.IsDir():
			*lines = append(*lines, fmt.Sprintf("File %s is a %s while file %s is a %s", pa, kind(fa), pb, kind(fb)))
		default:
			if err := diffFiles(pa, pb, lines); err != nil {
				return err
			}
		}
	}
	return nil
}

func diffFiles(pa, pb string, lines *[]string) error {
	da, err := os.ReadFile(pa)
	if err != nil {
		return err
	}
	db, err := os.ReadFile(pb)
	if err != nil {
		return err
	}
	if bytes.Equal(da, db) {
		return nil
	}
	if isBinary(da) || isBinary(db) {
		*lines = append(*lines, fmt.Sprintf("Binary files %s and %s differ", pa, pb))
		return nil
	}

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(da)),
		B:        difflib.SplitLines(string(db)),
		FromFile: pa,
		ToFile:   pb,
		Context:  3,
	})
	if err != nil {
		return err
	}
	*lines = append(*lines, fmt.Sprintf("diff -r %s %s", pa, pb))
	*lines = append(*lines, strings.Split(strings.TrimRight(unified, "\n"), "\n")...)
	return nil
}

func dirNames(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

func union(a, b map[string]bool) []string {
	var names []string
	for n := range a {
		names = append(names, n)
	}
	for n := range b {
		if !a[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func kind(fi os.FileInfo) string {
	if fi.IsDir() {
		return "directory"
	}
	return "regular file"
}
