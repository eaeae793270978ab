package binary

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// chunkSize bounds memory used when hashing and streaming downloads.
const chunkSize = 32 * 1024

// ComputeDigest returns the lowercase hex digest of the file at path. The
// file is read in fixed-size chunks.
func ComputeDigest(path string, algo Algorithm) (string, error) {
	var h hash.Hash
	switch algo {
	case AlgorithmSHA256, "":
		h = sha256.New()
	default:
		return "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum computes the sha256 of path and compares it with
// expectedHex after trimming and lowercasing. The computed digest is returned
// so callers can report both values on mismatch.
func VerifyChecksum(expectedHex, path string) (bool, string, error) {
	computed, err := ComputeDigest(path, AlgorithmSHA256)
	if err != nil {
		return false, "", err
	}

	expected := strings.ToLower(strings.TrimSpace(expectedHex))
	return computed == expected, computed, nil
}

// ParseChecksum reads a checksum asset. The digest is the first
// whitespace-delimited token of the first non-empty line; the rest of the
// line (usually a file name) is ignored.
//
// Format: "abc123def456  proj-linux-amd64.tar.gz"
func ParseChecksum(data []byte) (ChecksumRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		digest := strings.ToLower(fields[0])
		if !isHexDigest(digest, sha256.Size) {
			return ChecksumRecord{}, fmt.Errorf("malformed sha256 digest %q", fields[0])
		}
		return ChecksumRecord{Algorithm: AlgorithmSHA256, ExpectedHex: digest}, nil
	}

	if err := scanner.Err(); err != nil {
		return ChecksumRecord{}, fmt.Errorf("scan checksum file: %w", err)
	}
	return ChecksumRecord{}, fmt.Errorf("checksum file is empty")
}

// ReadChecksumFile parses the checksum asset stored at path.
func ReadChecksumFile(path string) (ChecksumRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChecksumRecord{}, fmt.Errorf("read checksum file: %w", err)
	}
	return ParseChecksum(data)
}

func isHexDigest(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
