package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	"github.com/oremus-labs/ol-hook-router/internal/hook"
)

//go:embed schema.json
var schemaDocument []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaDocument)

// File is the on-disk registry document. YAML and JSON are both accepted.
type File struct {
	HookDir          string                       `json:"hookDir,omitempty"`
	DefaultTimeoutMs int                          `json:"defaultTimeoutMs,omitempty"`
	Events           map[string][]hook.Descriptor `json:"events"`
}

// ValidationError lists every schema violation found in a registry file.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("registry %s is invalid: %s", e.Path, strings.Join(e.Errors, "; "))
}

// Options supplies the values a registry file may leave out.
type Options struct {
	HookDir        string
	DefaultTimeout time.Duration
}

// Load reads, validates and normalizes a registry file. opts.HookDir is used
// when the file does not set hookDir; a relative hookDir is resolved against
// the directory holding the file.
func Load(path string, opts Options) (*Registry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return Parse(data, path, opts)
}

// Parse is Load without the file read; path is only used for messages and
// relative hookDir resolution.
func Parse(data []byte, path string, opts Options) (*Registry, error) {
	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	if err := validate(doc, path); err != nil {
		return nil, err
	}

	var file File
	if err := json.Unmarshal(doc, &file); err != nil {
		return nil, fmt.Errorf("failed to decode registry %s: %w", path, err)
	}

	hookDir := opts.HookDir
	if file.HookDir != "" {
		hookDir = file.HookDir
		if !filepath.IsAbs(hookDir) {
			hookDir = filepath.Join(filepath.Dir(path), hookDir)
		}
	}
	fallback := opts.DefaultTimeout
	if file.DefaultTimeoutMs > 0 {
		fallback = time.Duration(file.DefaultTimeoutMs) * time.Millisecond
	}
	applyDefaultTimeout(file.Events, fallback)
	return New(file.Events, hookDir), nil
}

func applyDefaultTimeout(entries map[string][]hook.Descriptor, fallback time.Duration) {
	if fallback <= 0 {
		fallback = hook.DefaultTimeout
	}
	for _, list := range entries {
		for i := range list {
			if list[i].TimeoutMs <= 0 {
				list[i].TimeoutMs = int(fallback / time.Millisecond)
			}
		}
	}
}

func validate(doc []byte, path string) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error for %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{Path: path}
	for _, e := range result.Errors() {
		verr.Errors = append(verr.Errors, e.String())
	}
	return verr
}
