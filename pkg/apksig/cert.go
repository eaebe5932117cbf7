// Package apksig extracts signer certificates from APKs, fingerprints
// them and verifies APK signatures with the Android and Java tooling.
package apksig

import (
	"archive/zip"
	encasn1 "encoding/asn1"
	"errors"
	"fmt"
	"io"
	"regexp"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ManifestName is the JAR manifest every v1 signature covers.
const ManifestName = "META-INF/MANIFEST.MF"

var (
	signatureBlockRe = regexp.MustCompile(`^META-INF/.*\.(DSA|EC|RSA)$`)
	signatureFileRe  = regexp.MustCompile(`^META-INF/[0-9A-Za-z_\-]+\.(SF|RSA|DSA|EC)$`)
)

var oidSignedData = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

var (
	// ErrNoCertificate means a signature block carried no certificates.
	ErrNoCertificate  = errors.New("certificates not found")
	errMalformedBlock = errors.New("malformed signature block")
)

// IsSignatureBlock reports whether name is a JAR signature block entry.
func IsSignatureBlock(name string) bool {
	return signatureBlockRe.MatchString(name)
}

// IsSignatureFile reports whether name is any v1 signing entry other than
// the manifest.
func IsSignatureFile(name string) bool {
	return signatureFileRe.MatchString(name)
}

// ExtractFirstSignerCertificate returns the DER certificate of the first
// signer of the APK at path. The v1 signature block is used when there is
// exactly one; with none, the v2 and then v3 APK Signing Block is read.
//
// A nil certificate with a nil error means no usable certificate was
// found. Several signature blocks count as no certificate, since picking
// one would hide which signer is meant.
func ExtractFirstSignerCertificate(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer zr.Close()

	var blocks []*zip.File
	for _, f := range zr.File {
		if IsSignatureBlock(f.Name) {
			blocks = append(blocks, f)
		}
	}

	var cert []byte
	switch len(blocks) {
	case 0:
	case 1:
		data, err := readEntry(blocks[0])
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", blocks[0].Name, path, err)
		}
		cert, err = CertificateFromSignatureBlock(data)
		if err != nil && !errors.Is(err, ErrNoCertificate) {
			return nil, fmt.Errorf("%s in %s: %w", blocks[0].Name, path, err)
		}
		if err != nil {
			log.Error("Certificates not found.")
		}
	default:
		log.Errorf("Found multiple JAR Signature Block Files in %s", path)
		return nil, nil
	}

	if cert == nil {
		cert, err = signingBlockCertificate(path)
		if err != nil {
			return nil, err
		}
	}
	if cert == nil {
		log.Errorf("No signing certificates found in %s", path)
	}
	return cert, nil
}

// CertificateFromSignatureBlock returns the first certificate embedded in
// a DER encoded PKCS#7 SignedData structure, i.e. the contents of a
// META-INF/*.RSA, *.DSA or *.EC entry.
func CertificateFromSignatureBlock(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var (
		contentInfo cryptobyte.String
		contentType encasn1.ObjectIdentifier
	)
	if !input.ReadASN1(&contentInfo, asn1.SEQUENCE) ||
		!contentInfo.ReadASN1ObjectIdentifier(&contentType) {
		return nil, errMalformedBlock
	}
	if !contentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("content type %s is not signedData", contentType)
	}

	var content, signedData cryptobyte.String
	if !contentInfo.ReadASN1(&content, asn1.Tag(0).Constructed().ContextSpecific()) ||
		!content.ReadASN1(&signedData, asn1.SEQUENCE) ||
		// version, digestAlgorithms, contentInfo
		!signedData.SkipASN1(asn1.INTEGER) ||
		!signedData.SkipASN1(asn1.SET) ||
		!signedData.SkipASN1(asn1.SEQUENCE) {
		return nil, errMalformedBlock
	}

	var (
		certs   cryptobyte.String
		present bool
	)
	if !signedData.ReadOptionalASN1(&certs, &present, asn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, errMalformedBlock
	}
	if !present || certs.Empty() {
		return nil, ErrNoCertificate
	}

	var cert cryptobyte.String
	if !certs.ReadASN1Element(&cert, asn1.SEQUENCE) {
		return nil, errMalformedBlock
	}
	return []byte(cert), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
