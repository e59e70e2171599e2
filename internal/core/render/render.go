package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/cespare/xxhash/v2"

	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

// ConfigDir is the manifest subtree whose entries become Docker configs.
const ConfigDir = "config"

// =============================================================================
// Types
// =============================================================================

// Context is the data exposed to package templates.
type Context struct {
	Values  values.Values
	Package PackageInfo
	Release ReleaseInfo
}

// PackageInfo identifies the package being rendered.
type PackageInfo struct {
	Name    string
	Version string
}

// ReleaseInfo describes the deployment target of a render.
type ReleaseInfo struct {
	Stack       string
	Environment string
}

// File is one rendered output file.
type File struct {
	Name    string
	Content []byte
}

// Manifest is the ordered set of files produced by rendering one package.
type Manifest struct {
	Files []File
}

// ConfigEntry is one Docker config payload extracted from the manifest's
// config/ subtree. Name is the entry directory name, used to derive the
// cluster config name.
type ConfigEntry struct {
	Name     string
	FileName string
	Content  []byte
}

// =============================================================================
// Rendering Functions
// =============================================================================

// Render executes every package template against the context and returns the
// manifest. Templates are processed in their sorted order, so output order is
// deterministic. A reference to an absent value fails the render; packages
// make a key optional by giving it a default in their values.yaml or by
// piping a present-but-empty value through the default function.
func Render(templates []pack.Template, ctx Context) (*Manifest, error) {
	manifest := &Manifest{Files: make([]File, 0, len(templates))}

	for _, tpl := range templates {
		tmpl, err := template.New(tpl.Name).
			Funcs(buildFuncMap()).
			Option("missingkey=error").
			Parse(string(tpl.Content))
		if err != nil {
			return nil, NewRenderError(tpl.Name, fmt.Sprintf("parse: %v", err))
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, ctx); err != nil {
			return nil, NewRenderError(tpl.Name, fmt.Sprintf("execute: %v", err))
		}

		manifest.Files = append(manifest.Files, File{
			Name:    tpl.Name,
			Content: buf.Bytes(),
		})
	}

	return manifest, nil
}

// =============================================================================
// Manifest Functions
// =============================================================================

// Hash returns a content hash over the ordered manifest files. Two manifests
// with identical file names and bytes hash identically.
func (m *Manifest) Hash() string {
	h := xxhash.New()
	for _, f := range m.Files {
		h.WriteString(f.Name)
		h.Write([]byte{0})
		h.Write(f.Content)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// StackFile returns the manifest's stack file. Exactly one of stack.yaml or
// stack.yml must exist.
func (m *Manifest) StackFile() (*File, error) {
	var found *File
	for i := range m.Files {
		name := m.Files[i].Name
		if name != "stack.yaml" && name != "stack.yml" {
			continue
		}
		if found != nil {
			return nil, ErrMultipleStackFiles
		}
		found = &m.Files[i]
	}
	if found == nil {
		return nil, ErrNoStackFile
	}
	return found, nil
}

// ConfigEntries extracts Docker config payloads from the config/ subtree.
// Each entry directory must contain exactly one file.
func (m *Manifest) ConfigEntries() ([]ConfigEntry, error) {
	byName := make(map[string]*ConfigEntry)
	var order []string

	for _, f := range m.Files {
		rel, ok := strings.CutPrefix(f.Name, ConfigDir+"/")
		if !ok {
			continue
		}
		name, fileName, ok := strings.Cut(rel, "/")
		if !ok || name == "" || fileName == "" {
			return nil, fmt.Errorf("%w: %q is not of the form config/<name>/<file>", ErrInvalidConfigEntry, f.Name)
		}
		if strings.Contains(fileName, "/") {
			return nil, fmt.Errorf("%w: directory %q holds nested entries, expected a single file", ErrInvalidConfigEntry, name)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("%w: multiple files found in config directory %q, expected only one file", ErrInvalidConfigEntry, name)
		}
		byName[name] = &ConfigEntry{Name: name, FileName: fileName, Content: f.Content}
		order = append(order, name)
	}

	entries := make([]ConfigEntry, 0, len(order))
	for _, name := range order {
		entries = append(entries, *byName[name])
	}
	return entries, nil
}
