package sdruntime

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName is the checksum manifest looked up in an offline model
// directory. Each line is "<sha256>  <relative path>", as written by sha256sum.
const ManifestName = "checksums.sha256"

// ResolveOfflineModel maps a model id to its directory below modelsDir and
// checks that it exists.
func ResolveOfflineModel(modelsDir, modelID string) (string, error) {
	dirName, err := modelDirName(modelID)
	if err != nil {
		return "", err
	}

	path := filepath.Join(modelsDir, dirName)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s (looked in %s)", ErrModelNotFound, modelID, path)
		}
		return "", fmt.Errorf("failed to access model directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrModelNotFound, path)
	}
	return path, nil
}

// modelDirName converts "org/name" into "models--org--name".
func modelDirName(modelID string) (string, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidModelID)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, `\:`) || strings.HasPrefix(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	parts := strings.Split(id, "/")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
		}
	}
	return "models--" + strings.Join(parts, "--"), nil
}

// VerifyManifest checks every file listed in dir's checksum manifest. A
// directory without a manifest is accepted as-is.
func VerifyManifest(dir string) error {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return fmt.Errorf("%w: manifest line %d is malformed", ErrModelCorrupted, line)
		}
		want := strings.ToLower(fields[0])
		name := strings.TrimPrefix(fields[1], "*")
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("%w: manifest line %d escapes model directory", ErrModelCorrupted, line)
		}

		got, err := CalculateChecksum(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("%w: %s expected %s, got %s", ErrModelCorrupted, name, want, got)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	return nil
}

// CalculateChecksum computes the SHA256 hash of a file, streaming it so
// multi-gigabyte weights are never held in memory.
//
// Returns the lowercase hex-encoded SHA256 hash string.
func CalculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, filePath)
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// IsModelCorrupted checks if an error indicates model corruption.
func IsModelCorrupted(err error) bool {
	return errors.Is(err, ErrModelCorrupted)
}

// IsModelNotFound checks if an error indicates a missing model.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}
