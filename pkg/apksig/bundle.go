package apksig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var numericDirRe = regexp.MustCompile(`^[0-9]+`)

// SigningFiles is one signature bundle copied out of a signed APK: the
// signature block, the signed manifest sections and the manifest.
type SigningFiles struct {
	Signature string
	Signed    string
	Manifest  string
}

// AmbiguityError means more than one signature was found where exactly
// one is required.
type AmbiguityError struct {
	Dir   string
	Count int
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous signatures, please make sure there is only one signature in '%s' (found %d)", e.Dir, e.Count)
}

// SigDir is where the developer signature of one version of an app is
// stored below the metadata directory. A zero versionCode gives the
// directory holding all versions.
func SigDir(metadataDir, appID string, versionCode int64) string {
	dir := filepath.Join(metadataDir, appID, "signatures")
	if versionCode == 0 {
		return dir
	}
	return filepath.Join(dir, strconv.FormatInt(versionCode, 10))
}

// FindSigningFiles returns every complete bundle in sigDir. A bundle is
// complete when the block file has a matching .SF file and the directory
// has a MANIFEST.MF.
func FindSigningFiles(sigDir string) ([]SigningFiles, error) {
	blocks, err := signatureBlocks(sigDir)
	if err != nil {
		return nil, err
	}

	manifest := filepath.Join(sigDir, filepath.Base(ManifestName))
	var found []SigningFiles
	for _, block := range blocks {
		sf := strings.TrimSuffix(block, filepath.Ext(block)) + ".SF"
		if !isFile(sf) || !isFile(manifest) {
			continue
		}
		found = append(found, SigningFiles{Signature: block, Signed: sf, Manifest: manifest})
	}
	return found, nil
}

// FindDeveloperSigningFiles returns the single bundle in sigDir. It fails
// with *AmbiguityError when there are several and returns nil when there
// are none.
func FindDeveloperSigningFiles(sigDir string) (*SigningFiles, error) {
	all, err := FindSigningFiles(sigDir)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return &all[0], nil
	default:
		return nil, &AmbiguityError{Dir: sigDir, Count: len(all)}
	}
}

// FindDeveloperSignature returns the fingerprint of the developer's signing
// certificate stored for the app whose signatures live in appSigDir, as
// given by SigDir with a zero version code. Version directories are
// scanned in numeric order and the first signature wins. It returns ""
// when no signature is stored.
func FindDeveloperSignature(appSigDir string) (string, error) {
	entries, err := os.ReadDir(appSigDir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && numericDirRe.MatchString(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		a, _ := strconv.ParseInt(versions[i], 10, 64)
		b, _ := strconv.ParseInt(versions[j], 10, 64)
		return a < b
	})

	return firstSignatureFingerprint(appSigDir, versions)
}

func firstSignatureFingerprint(appSigDir string, versions []string) (string, error) {
	for _, ver := range versions {
		dir := filepath.Join(appSigDir, ver)
		blocks, err := signatureBlocks(dir)
		if err != nil {
			return "", err
		}
		if len(blocks) > 1 {
			return "", &AmbiguityError{Dir: dir, Count: len(blocks)}
		}
		if len(blocks) == 0 {
			continue
		}

		return SignatureBlockFingerprint(blocks[0])
	}
	return "", nil
}

// SignatureBlockFingerprint returns the fingerprint of the certificate in
// a signature block file stored on disk.
func SignatureBlockFingerprint(path string) (string, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	cert, err := CertificateFromSignatureBlock(der)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return Fingerprint(cert), nil
}

func signatureBlocks(dir string) ([]string, error) {
	var blocks []string
	for _, ext := range []string{"DSA", "EC", "RSA"} {
		m, err := filepath.Glob(filepath.Join(dir, "*."+ext))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, m...)
	}
	return blocks, nil
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
