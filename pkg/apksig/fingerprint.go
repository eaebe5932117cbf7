package apksig

import (
	"crypto/sha256"
	"encoding/hex"

	log "github.com/sirupsen/logrus"
)

// ShortFingerprintLen is the number of hex digits kept by ShortFingerprint.
const ShortFingerprintLen = 7

// Fingerprint is the lowercase hex SHA-256 of a DER certificate.
func Fingerprint(cert []byte) string {
	sum := sha256.Sum256(cert)
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint is the first seven digits of Fingerprint.
func ShortFingerprint(cert []byte) string {
	return Fingerprint(cert)[:ShortFingerprintLen]
}

// APKSignerFingerprint returns the fingerprint of the first signer of the
// APK at path, or "" when it has no usable certificate.
func APKSignerFingerprint(path string) (string, error) {
	cert, err := ExtractFirstSignerCertificate(path)
	if err != nil {
		return "", err
	}
	if cert == nil {
		log.Error("Could not get APK signing key fingerprint")
		return "", nil
	}
	return Fingerprint(cert), nil
}

func APKSignerFingerprintShort(path string) (string, error) {
	fp, err := APKSignerFingerprint(path)
	if err != nil || fp == "" {
		return "", err
	}
	return fp[:ShortFingerprintLen], nil
}
