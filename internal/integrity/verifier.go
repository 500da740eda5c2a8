// Package integrity provides file verification and hash calculation
package integrity

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// FileVerifier handles file integrity checks
type FileVerifier struct{}

func NewFileVerifier() *FileVerifier {
	return &FileVerifier{}
}

// Verify checks if the file at path matches the expected hash
func (v *FileVerifier) Verify(path string, algo string, expected string) error {
	actual, err := CalculateHash(path, algo)
	if err != nil {
		return err
	}

	if actual != expected {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expected, actual)
	}

	return nil
}

// CalculateHash computes the hash of a file
// algorithm should be "sha256" or "md5"
func CalculateHash(filePath string, algorithm string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyBuffer checks an in-memory buffer against an expected hash, for the
// file lane's cb_file_integrity_check tag where the data was read straight
// into memory and never touched disk as a separate artifact.
func VerifyBuffer(buf []byte, algo string, expected string) error {
	actual, err := HashBuffer(buf, algo)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// HashBuffer computes the hash of an in-memory buffer.
func HashBuffer(buf []byte, algorithm string) (string, error) {
	hasher, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hasher, bytes.NewReader(buf)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}
