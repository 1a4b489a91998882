// Package manifest reads the project's declared runtime dependencies and the
// installed metadata of each one, and renders the attribution string embedded
// into the build.
//
// Every failure here is fatal: a declared dependency that is not installed
// means the build environment is broken.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/grambuild/buildinfo"
)

const (
	// FileName is the package manifest file name.
	FileName = "package.json"
	// ModulesDir is the directory installed packages live in.
	ModulesDir = "node_modules"
	// dependenciesField holds the runtime dependency map.
	dependenciesField = "dependencies"
)

// ErrNoDependencies is returned when the project manifest has no
// dependencies field.
var ErrNoDependencies = errors.New("manifest has no \"dependencies\" field")

// Record is one installed dependency.
type Record struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	License string `json:"license"`
}

// installed is the subset of an installed package.json that is read.
type installed struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	License json.RawMessage `json:"license"`
}

// ProjectPath returns the path of the project manifest under root.
func ProjectPath(root string) string {
	return filepath.Join(root, FileName)
}

// InstalledPath returns the path of an installed dependency's manifest.
// Scoped names ("@scope/pkg") map to nested directories.
func InstalledPath(root, name string) string {
	return filepath.Join(root, ModulesDir, filepath.FromSlash(name), FileName)
}

// ReadDependencyNames returns the keys of the "dependencies" object of the
// manifest at path, in the order they are declared.
func ReadDependencyNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, buildinfo.Fatal(path, fmt.Errorf("read manifest: %w", err))
	}

	names, err := dependencyNames(data)
	if err != nil {
		return nil, buildinfo.Fatal(path, err)
	}
	return names, nil
}

// dependencyNames walks the top-level object with a token decoder so the
// declaration order of the dependency keys survives. A repeated
// "dependencies" key replaces the earlier one, as JSON.parse does.
func dependencyNames(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	var names []string
	found := false
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}

		if key != dependenciesField {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("parse manifest field %q: %w", key, err)
			}
			continue
		}

		if names, err = objectKeys(dec); err != nil {
			return nil, fmt.Errorf("parse %q: %w", dependenciesField, err)
		}
		found = true
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if !found {
		return nil, ErrNoDependencies
	}
	return names, nil
}

// objectKeys consumes one object value and returns its keys in order.
func objectKeys(dec *json.Decoder) ([]string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	names := make([]string, 0)
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		var constraint json.RawMessage
		if err := dec.Decode(&constraint); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		names = append(names, key)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return names, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("unexpected end of input, want %q", want)
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("unexpected token %v, want %q", tok, want)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("unexpected token %v, want object key", tok)
	}
	return key, nil
}

// ReadInstalled reads the installed manifest at path.
func ReadInstalled(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, buildinfo.Fatal(path, fmt.Errorf("read installed manifest: %w", err))
	}

	var m installed
	if err := json.Unmarshal(data, &m); err != nil {
		return Record{}, buildinfo.Fatal(path, fmt.Errorf("parse installed manifest: %w", err))
	}

	license, err := parseLicense(m.License)
	if err != nil {
		return Record{}, buildinfo.Fatal(path, err)
	}

	return Record{
		Name:    m.Name,
		Version: m.Version,
		License: license,
	}, nil
}

// parseLicense accepts the SPDX string form and the legacy {"type": ...}
// object form. A missing license reads as "unknown".
func parseLicense(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return unknownLicense, nil
	}

	var spdx string
	if err := json.Unmarshal(raw, &spdx); err == nil {
		if strings.TrimSpace(spdx) == "" {
			return unknownLicense, nil
		}
		return spdx, nil
	}

	var legacy struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return "", fmt.Errorf("parse license field: %w", err)
	}
	if legacy.Type == "" {
		return unknownLicense, nil
	}
	return legacy.Type, nil
}

const unknownLicense = "unknown"
