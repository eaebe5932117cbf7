package apksig

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// IDs of the APK Signing Block pairs carrying v2 and v3 signatures.
const (
	SchemeV2BlockID uint32 = 0x7109871a
	SchemeV3BlockID uint32 = 0xf05368c0
)

const (
	sigBlockMagic   = "APK Sig Block 42"
	eocdSignature   = 0x06054b50
	eocdMinSize     = 22
	eocdMaxComment  = 0xffff
	sigFooterSize   = 24
	maxSigBlockSize = 64 << 20
)

var errTruncated = errors.New("truncated APK Signing Block")

// signingBlockCertificate returns the first signer certificate of the v2
// scheme, or of v3 when there is no v2 signature. Both nil means the APK
// has no APK Signing Block or no certificate in it.
func signingBlockCertificate(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	pairs, err := readSigningBlock(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if pairs == nil {
		return nil, nil
	}

	for _, scheme := range []struct {
		id   uint32
		name string
	}{{SchemeV2BlockID, "v2"}, {SchemeV3BlockID, "v3"}} {
		value, ok := pairs[scheme.id]
		if !ok {
			continue
		}
		cert, err := firstSchemeCertificate(value)
		if err != nil {
			return nil, fmt.Errorf("%s: APK Signature %s: %w", path, scheme.name, err)
		}
		if cert != nil {
			log.Debugf("Using APK Signature %s", scheme.name)
			return cert, nil
		}
	}
	return nil, nil
}

type sizedReaderAt interface {
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// readSigningBlock returns the ID-value pairs of the APK Signing Block that
// sits right before the ZIP central directory, or nil if there is none.
func readSigningBlock(r sizedReaderAt) (map[uint32][]byte, error) {
	fi, err := r.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()

	cdOffset, err := centralDirectoryOffset(r, size)
	if err != nil {
		return nil, err
	}
	if cdOffset < sigFooterSize {
		return nil, nil
	}

	footer := make([]byte, sigFooterSize)
	if _, err := r.ReadAt(footer, cdOffset-sigFooterSize); err != nil {
		return nil, err
	}
	if string(footer[8:]) != sigBlockMagic {
		return nil, nil
	}

	blockSize := binary.LittleEndian.Uint64(footer)
	if blockSize < sigFooterSize || blockSize > maxSigBlockSize || int64(blockSize)+8 > cdOffset {
		return nil, fmt.Errorf("APK Signing Block size %d out of range", blockSize)
	}
	start := cdOffset - int64(blockSize) - 8

	block := make([]byte, blockSize+8)
	if _, err := r.ReadAt(block, start); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint64(block) != blockSize {
		return nil, errors.New("APK Signing Block sizes do not match")
	}
	return parsePairs(block[8 : len(block)-sigFooterSize])
}

// centralDirectoryOffset locates the End of Central Directory record,
// which may be followed by a comment of up to 64KiB.
func centralDirectoryOffset(r io.ReaderAt, size int64) (int64, error) {
	if size < eocdMinSize {
		return 0, errors.New("not a zip archive")
	}
	tail := int64(eocdMinSize + eocdMaxComment)
	if tail > size {
		tail = size
	}
	buf := make([]byte, tail)
	if _, err := r.ReadAt(buf, size-tail); err != nil {
		return 0, err
	}

	for i := len(buf) - eocdMinSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != eocdSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(buf[i+20:]))
		if i+eocdMinSize+commentLen != len(buf) {
			continue
		}
		return int64(binary.LittleEndian.Uint32(buf[i+16:])), nil
	}
	return 0, errors.New("zip end of central directory not found")
}

func parsePairs(b []byte) (map[uint32][]byte, error) {
	pairs := map[uint32][]byte{}
	for len(b) > 0 {
		if len(b) < 8 {
			return nil, errTruncated
		}
		n := binary.LittleEndian.Uint64(b)
		b = b[8:]
		if n < 4 || n > uint64(len(b)) {
			return nil, errTruncated
		}
		id := binary.LittleEndian.Uint32(b)
		pairs[id] = b[4:n]
		b = b[n:]
	}
	return pairs, nil
}

// firstSchemeCertificate walks
// signers > signer > signed data > certificates > certificate
// of a v2 or v3 block value.
func firstSchemeCertificate(value []byte) ([]byte, error) {
	signers, _, err := lengthPrefixed(value)
	if err != nil {
		return nil, err
	}
	if len(signers) == 0 {
		return nil, nil
	}
	signer, _, err := lengthPrefixed(signers)
	if err != nil {
		return nil, err
	}
	signedData, _, err := lengthPrefixed(signer)
	if err != nil {
		return nil, err
	}
	_, rest, err := lengthPrefixed(signedData) // digests
	if err != nil {
		return nil, err
	}
	certs, _, err := lengthPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, nil
	}
	cert, _, err := lengthPrefixed(certs)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func lengthPrefixed(b []byte) (elem, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errTruncated
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(len(b)-4) {
		return nil, nil, errTruncated
	}
	return b[4 : 4+n], b[4+n:], nil
}
