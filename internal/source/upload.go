package source

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sifter/internal/services"
)

// IsInline reports whether locator carries inline base64 content rather than a path.
func IsInline(locator string) bool {
	trimmed := strings.TrimSpace(locator)
	return strings.HasPrefix(trimmed, "data:") || strings.HasPrefix(trimmed, "base64:")
}

// Materialize writes an inline upload into uploadDir as <name>.xlsx and
// returns its path. Plain paths are returned unchanged. The decoded bytes must
// carry a spreadsheet signature; legacy .xls content is rejected as
// services.ErrSourceRead.
func Materialize(locator, uploadDir, name string) (string, error) {
	locator = strings.TrimSpace(locator)
	if !IsInline(locator) {
		return locator, nil
	}
	payload := locator
	if strings.HasPrefix(payload, "data:") {
		payload = strings.TrimPrefix(payload, "data:")
		// data:<mime>;base64,<payload>
		if _, after, ok := strings.Cut(payload, ","); ok {
			payload = after
		}
	} else {
		payload = strings.TrimPrefix(payload, "base64:")
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return "", services.Wrap(services.ErrValidation, stageName, "materialize", "inline upload is empty", nil)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "materialize", "inline upload is not valid base64", err)
	}
	if len(data) == 0 {
		return "", services.Wrap(services.ErrValidation, stageName, "materialize", "inline upload decoded to zero bytes", nil)
	}
	switch sniff(data) {
	case FormatXLSX:
	case FormatLegacyXLS:
		return "", services.Wrap(services.ErrSourceRead, stageName, "materialize", "legacy .xls workbooks are not supported; save as .xlsx", nil)
	default:
		return "", services.Wrap(services.ErrValidation, stageName, "materialize", "inline upload is not a spreadsheet", nil)
	}

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrPersistence, stageName, "materialize", "create upload dir", err)
	}
	target := filepath.Join(uploadDir, name+".xlsx")
	tmp, err := os.CreateTemp(uploadDir, ".upload-*")
	if err != nil {
		return "", services.Wrap(services.ErrPersistence, stageName, "materialize", "create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", services.Wrap(services.ErrPersistence, stageName, "materialize", "write upload", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", services.Wrap(services.ErrPersistence, stageName, "materialize", "close upload", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", services.Wrap(services.ErrPersistence, stageName, "materialize", "rename upload", err)
	}
	return target, nil
}

// Validate checks that path names an existing, non-empty regular file.
func Validate(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return services.Wrap(services.ErrValidation, stageName, "validate", "source path is required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "validate", fmt.Sprintf("source %s is not readable", path), err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, stageName, "validate", fmt.Sprintf("source %s is not a regular file", path), nil)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrValidation, stageName, "validate", fmt.Sprintf("source %s is empty", path), nil)
	}
	return nil
}
