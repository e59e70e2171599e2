package pack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

// DescriptorFile is the descriptor filename inside a package directory.
const DescriptorFile = "package.yaml"

// DefaultsFile is the optional default-values filename inside a package directory.
const DefaultsFile = "values.yaml"

// TemplateSuffix is stripped from template filenames to form the render target.
const TemplateSuffix = ".tmpl"

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	tagPattern  = regexp.MustCompile(`^[a-zA-Z0-9_ -]+$`)
)

// =============================================================================
// Types
// =============================================================================

// Descriptor is the parsed content of package.yaml.
type Descriptor struct {
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version"`
	Description  string       `yaml:"description"`
	Maintainers  []string     `yaml:"maintainers"`
	Tags         []string     `yaml:"tags"`
	Dependencies []Dependency `yaml:"dependencies"`
	Required     []string     `yaml:"required"`
}

// Dependency declares a requirement on another package. Version holds a
// constraint expression such as ">= 1.2.0"; empty means any version.
type Dependency struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Template is one template file of a package. Name is the render target
// relative to the manifest root (template suffix already stripped), slash
// separated, e.g. "stack.yaml" or "config/app/settings.ini".
type Template struct {
	Name    string
	Content []byte
}

// Package is a fully loaded package: descriptor, default values and templates.
type Package struct {
	Descriptor

	version   *semver.Version
	Defaults  values.Values
	Templates []Template
}

// SemVer returns the parsed package version.
func (p *Package) SemVer() *semver.Version {
	return p.version
}

// =============================================================================
// Parsing Functions
// =============================================================================

// ParseDescriptor decodes and validates a package.yaml document. Unknown
// fields are rejected.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewInvalidPackageError("", "descriptor", "package.yaml is empty")
		}
		return nil, NewInvalidPackageError("", "descriptor", fmt.Sprintf("cannot parse package.yaml: %v", err))
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks every descriptor field against the package format rules.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return NewInvalidPackageError("", "name", "name is required")
	}
	if !namePattern.MatchString(d.Name) {
		return NewInvalidPackageError(d.Name, "name", "only alphanumeric characters, '-' and '_' are allowed")
	}
	if d.Version == "" {
		return NewInvalidPackageError(d.Name, "version", "version is required")
	}
	if _, err := semver.StrictNewVersion(d.Version); err != nil {
		return NewInvalidPackageError(d.Name, "version",
			fmt.Sprintf("%q is not a semantic version (expected X.Y.Z with optional pre-release)", d.Version))
	}
	for i, tag := range d.Tags {
		if !tagPattern.MatchString(tag) {
			return NewInvalidPackageError(d.Name, fmt.Sprintf("tags[%d]", i),
				fmt.Sprintf("tag %q contains invalid characters", tag))
		}
	}
	for i, dep := range d.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if dep.Name == "" {
			return NewInvalidPackageError(d.Name, field+".name", "dependency name is required")
		}
		if !namePattern.MatchString(dep.Name) {
			return NewInvalidPackageError(d.Name, field+".name",
				fmt.Sprintf("dependency name %q contains invalid characters", dep.Name))
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				return NewInvalidPackageError(d.Name, field+".version",
					fmt.Sprintf("%q is not a valid version constraint", dep.Version))
			}
		}
	}
	for i, key := range d.Required {
		if strings.TrimSpace(key) == "" {
			return NewInvalidPackageError(d.Name, fmt.Sprintf("required[%d]", i), "required value path is empty")
		}
	}
	return nil
}

// =============================================================================
// Package Assembly
// =============================================================================

// New assembles a Package from a validated descriptor, its default values and
// its template files. Templates are sorted by target name so render order is
// deterministic; duplicate or escaping target names are rejected.
func New(d Descriptor, defaults values.Values, templates []Template) (*Package, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	version, err := semver.StrictNewVersion(d.Version)
	if err != nil {
		return nil, NewInvalidPackageError(d.Name, "version", err.Error())
	}

	sorted := make([]Template, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	seen := make(map[string]bool, len(sorted))
	for _, tpl := range sorted {
		if err := validateTargetName(tpl.Name); err != nil {
			return nil, NewInvalidPackageError(d.Name, "templates", err.Error())
		}
		if seen[tpl.Name] {
			return nil, NewInvalidPackageError(d.Name, "templates",
				fmt.Sprintf("duplicate render target %q", tpl.Name))
		}
		seen[tpl.Name] = true
	}

	return &Package{
		Descriptor: d,
		version:    version,
		Defaults:   values.Merge(defaults),
		Templates:  sorted,
	}, nil
}

// TargetName strips the template suffix from a template source filename.
func TargetName(source string) string {
	return strings.TrimSuffix(source, TemplateSuffix)
}

func validateTargetName(name string) error {
	if name == "" {
		return fmt.Errorf("template target name is empty")
	}
	if path.IsAbs(name) || path.Clean(name) != name || strings.HasPrefix(name, "..") {
		return fmt.Errorf("template target %q must be a clean relative path", name)
	}
	return nil
}
