// Package bmslog reads BMS telemetry log files and turns pipeline results
// into a compact digest and prompts for the AI insight step.
package bmslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
)

// Compile-time interface check
var _ analyzer.LogReader = (*Reader)(nil)

// AllowedExtensions lists the file extensions accepted as BMS logs.
var AllowedExtensions = []string{".yaml", ".yml", ".txt"}

// Reader handles reading and validating BMS telemetry log files.
// Implements analyzer.LogReader interface.
type Reader struct {
	maxSizeMB int
}

// NewReader creates a new BMS log reader
func NewReader(maxSizeMB int) *Reader {
	return &Reader{
		maxSizeMB: maxSizeMB,
	}
}

// Read implements analyzer.LogReader.Read.
// It checks existence, permissions, size and extension before reading.
func (r *Reader) Read(sourcePath string) (string, error) {
	fileInfo, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("BMS log file not found: %s", sourcePath)
		}
		return "", fmt.Errorf("failed to stat BMS log file: %w", err)
	}

	if fileInfo.IsDir() {
		return "", fmt.Errorf("BMS log path is a directory: %s", sourcePath)
	}

	if fileInfo.Mode().Perm()&0400 == 0 {
		return "", fmt.Errorf("BMS log file is not readable: %s", sourcePath)
	}

	maxBytes := int64(r.maxSizeMB) * 1024 * 1024
	if fileInfo.Size() > maxBytes {
		return "", fmt.Errorf("BMS log file exceeds maximum size of %dMB (size: %.2fMB)",
			r.maxSizeMB, float64(fileInfo.Size())/1024/1024)
	}

	if err := checkExtension(sourcePath); err != nil {
		return "", err
	}

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to read BMS log file: %w", err)
	}

	contentStr := string(content)
	if err := r.Validate(contentStr); err != nil {
		return "", fmt.Errorf("BMS log content validation failed: %w", err)
	}

	return contentStr, nil
}

// Validate implements analyzer.LogReader.Validate.
// Only emptiness is checked here; the parser decides what is a sample.
func (r *Reader) Validate(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("BMS log file is empty")
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("BMS log file contains only whitespace")
	}
	return nil
}

// GetSourceInfo implements analyzer.LogReader.GetSourceInfo.
func (r *Reader) GetSourceInfo(sourcePath string) (map[string]interface{}, error) {
	fileInfo, err := os.Stat(sourcePath)
	if err != nil {
		return nil, err
	}

	info := map[string]interface{}{
		"name":       filepath.Base(sourcePath),
		"size_bytes": fileInfo.Size(),
		"size_mb":    float64(fileInfo.Size()) / 1024 / 1024,
		"modified":   fileInfo.ModTime(),
		"age_hours":  time.Since(fileInfo.ModTime()).Hours(),
	}

	return info, nil
}

func checkExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("unsupported BMS log extension %q (allowed: %s)", ext, strings.Join(AllowedExtensions, ", "))
}
