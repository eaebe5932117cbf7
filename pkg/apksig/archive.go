package apksig

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// IsSigningEntry reports whether an archive entry belongs to the v1
// signature, including the manifest when withManifest is set.
func IsSigningEntry(name string, withManifest bool) bool {
	return IsSignatureFile(name) || (withManifest && name == ManifestName)
}

// StripSignatures rewrites the APK at path without its v1 signature
// files, and without the manifest when stripManifest is set. Entries are
// copied without recompression.
func StripSignatures(path string, stripManifest bool) error {
	return rewrite(path, func(zw *zip.Writer, zr *zip.Reader) error {
		for _, f := range zr.File {
			if IsSigningEntry(f.Name, stripManifest) {
				continue
			}
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copying %s: %w", f.Name, err)
			}
		}
		return nil
	})
}

// ImplantSignatures replaces the v1 signature of the APK at path with the
// files of sig, stored under META-INF/ in front of all other entries.
func ImplantSignatures(path string, sig SigningFiles) error {
	return rewrite(path, func(zw *zip.Writer, zr *zip.Reader) error {
		for _, src := range []string{sig.Signature, sig.Signed, sig.Manifest} {
			data, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			// The zero CreatorVersion marks a FAT entry, as the Android
			// SDK writes them.
			w, err := zw.CreateHeader(&zip.FileHeader{
				Name:   "META-INF/" + filepath.Base(src),
				Method: zip.Deflate,
			})
			if err != nil {
				return err
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
		}
		for _, f := range zr.File {
			if IsSigningEntry(f.Name, true) {
				continue
			}
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copying %s: %w", f.Name, err)
			}
		}
		return nil
	})
}

// ExtractSignatures writes the v1 signature files of apk into outDir,
// plus the manifest when withManifest is set.
func ExtractSignatures(apk, outDir string, withManifest bool) error {
	zr, err := zip.OpenReader(apk)
	if err != nil {
		return fmt.Errorf("opening %s: %w", apk, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		if !IsSigningEntry(f.Name, withManifest) {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		if err := os.WriteFile(filepath.Join(outDir, filepath.Base(f.Name)), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// rewrite streams the archive at path through fn into a sibling temporary
// file and moves the result over the original.
func rewrite(path string, fn func(*zip.Writer, *zip.Reader) error) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(in, fi.Size())
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rewrite-*.apk")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	if err := fn(zw, zr); err != nil {
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
