// Package catalog reads packages and environment defaults from the local
// catalog directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
	"github.com/siavashoutadi/pishro-lib/internal/core/values"
)

const (
	// PackagesDir is the catalog subdirectory holding package directories.
	PackagesDir = "packages"

	// EnvironmentsDir is the catalog subdirectory holding per-environment
	// default value files, one <package>.yaml per package.
	EnvironmentsDir = "environments"

	// TemplatesDir is the template subdirectory inside a package.
	TemplatesDir = "templates"
)

// maxConcurrentLoads bounds parallel package loading in LoadAll.
const maxConcurrentLoads = 5

// =============================================================================
// Catalog
// =============================================================================

// Catalog is a package catalog rooted at a directory:
//
//	<root>/packages/<name>/            package directories
//	<root>/environments/<env>/<name>.yaml   environment defaults
type Catalog struct {
	root   string
	logger *slog.Logger
}

// New creates a Catalog rooted at dir.
func New(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		root:   dir,
		logger: logger.With("component", "catalog"),
	}
}

// Root returns the catalog root directory.
func (c *Catalog) Root() string {
	return c.root
}

// PackageDir returns the directory a package lives in.
func (c *Catalog) PackageDir(name string) string {
	return filepath.Join(c.root, PackagesDir, name)
}

// LoadPackage loads one package from the catalog: its descriptor, its
// default values and its template files.
func (c *Catalog) LoadPackage(name string) (*pack.Package, error) {
	dir := c.PackageDir(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, NewCatalogError(name, dir,
			fmt.Sprintf("package %q is not in the catalog", name), ErrPackageNotFound)
	}

	data, err := os.ReadFile(filepath.Join(dir, pack.DescriptorFile))
	if err != nil {
		return nil, NewCatalogError(name, dir,
			fmt.Sprintf("cannot read %s: %v", pack.DescriptorFile, err), ErrLoadFailed)
	}
	descriptor, err := pack.ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	if descriptor.Name != name {
		return nil, NewCatalogError(name, dir,
			fmt.Sprintf("descriptor name %q does not match directory %q", descriptor.Name, name), ErrLoadFailed)
	}

	defaults, err := c.loadDefaults(name, dir)
	if err != nil {
		return nil, err
	}
	templates, err := c.loadTemplates(name, dir)
	if err != nil {
		return nil, err
	}

	return pack.New(*descriptor, defaults, templates)
}

// LoadAll loads every package in the catalog, keyed by name. A missing
// packages directory is an empty catalog, not an error.
func (c *Catalog) LoadAll(ctx context.Context) (map[string]*pack.Package, error) {
	entries, err := os.ReadDir(filepath.Join(c.root, PackagesDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]*pack.Package{}, nil
		}
		return nil, NewCatalogError("", c.root, err.Error(), ErrLoadFailed)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}

	loaded := make([]*pack.Package, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := c.LoadPackage(name)
			if err != nil {
				return err
			}
			loaded[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	packages := make(map[string]*pack.Package, len(loaded))
	for _, p := range loaded {
		packages[p.Name] = p
	}
	c.logger.Debug("catalog loaded", "packages", len(packages))
	return packages, nil
}

// EnvironmentValues returns the environment defaults for a package. A
// missing file means the environment defines nothing for the package.
func (c *Catalog) EnvironmentValues(environment, name string) (values.Values, error) {
	path := filepath.Join(c.root, EnvironmentsDir, environment, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values.Values{}, nil
		}
		return nil, NewCatalogError(name, path, err.Error(), ErrLoadFailed)
	}
	vals, err := values.Parse(data)
	if err != nil {
		return nil, NewCatalogError(name, path,
			fmt.Sprintf("invalid environment values: %v", err), ErrLoadFailed)
	}
	return vals, nil
}

// =============================================================================
// Loading Helpers
// =============================================================================

func (c *Catalog) loadDefaults(name, dir string) (values.Values, error) {
	data, err := os.ReadFile(filepath.Join(dir, pack.DefaultsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return values.Values{}, nil
		}
		return nil, NewCatalogError(name, dir,
			fmt.Sprintf("cannot read %s: %v", pack.DefaultsFile, err), ErrLoadFailed)
	}
	vals, err := values.Parse(data)
	if err != nil {
		return nil, NewCatalogError(name, dir,
			fmt.Sprintf("invalid %s: %v", pack.DefaultsFile, err), ErrLoadFailed)
	}
	return vals, nil
}

// loadTemplates collects the package's template files in target-name form.
// Directories without templates are legal; whether the render produces a
// stack file is checked at apply time.
func (c *Catalog) loadTemplates(name, dir string) ([]pack.Template, error) {
	root := filepath.Join(dir, TemplatesDir)
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var templates []pack.Template
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTemplateFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		templates = append(templates, pack.Template{
			Name:    pack.TargetName(filepath.ToSlash(rel)),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, NewCatalogError(name, root, err.Error(), ErrLoadFailed)
	}
	return templates, nil
}

func isTemplateFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") ||
		strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, pack.TemplateSuffix)
}
