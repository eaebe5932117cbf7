package srclib

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Place records libPath as library reference number in
// rootDir/project.properties, replacing an earlier line for the same
// number. The file is treated as raw bytes since it is ISO-8859-1.
func Place(rootDir string, number int, libPath string) error {
	rel, err := filepath.Rel(rootDir, libPath)
	if err != nil {
		return fmt.Errorf("relative path to %s: %w", libPath, err)
	}

	path := filepath.Join(rootDir, "project.properties")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading project.properties: %w", err)
	}

	prefix := []byte(fmt.Sprintf("android.library.reference.%d=", number))
	line := append(append([]byte{}, prefix...), []byte(rel+"\n")...)

	var out bytes.Buffer
	placed := false
	for _, l := range bytes.SplitAfter(data, []byte("\n")) {
		if len(l) == 0 {
			continue
		}
		if bytes.HasPrefix(l, prefix) {
			out.Write(line)
			placed = true
			continue
		}
		out.Write(l)
		if l[len(l)-1] != '\n' {
			out.WriteByte('\n')
		}
	}
	if !placed {
		out.Write(line)
	}

	return os.WriteFile(path, out.Bytes(), 0o644)
}
