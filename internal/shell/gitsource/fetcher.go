package gitsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
)

// =============================================================================
// Fetcher
// =============================================================================

// Fetcher clones catalog repositories and extracts packages from them.
type Fetcher struct {
	// GitBin is the git executable to run. Empty means "git" from PATH.
	GitBin string

	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		logger: logger.With("component", "gitsource"),
	}
}

func (f *Fetcher) gitBin() string {
	if f.GitBin != "" {
		return f.GitBin
	}
	return "git"
}

// Fetch shallow-clones one branch of the repository into a temp directory and
// returns its path with a cleanup function. An empty ref means the
// repository's default branch.
func (f *Fetcher) Fetch(ctx context.Context, repo Repository, ref string) (string, func(), error) {
	if ref == "" {
		ref = repo.ref()
	}

	dir, err := os.MkdirTemp("", "pishro-clone-")
	if err != nil {
		return "", nil, NewFetchError(repo.Name, "Fetch", fmt.Sprintf("create temp dir: %v", err), ErrCloneFailed)
	}
	cleanup := func() { os.RemoveAll(dir) }

	f.logger.Debug("cloning repository", "repository", repo.Name, "ref", ref)

	cmd := exec.CommandContext(ctx, f.gitBin(),
		"clone", "--depth", "1", "--branch", ref, "--single-branch", repo.CloneURL(), dir)
	// Fail instead of prompting when credentials are missing or wrong
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		cleanup()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", nil, NewFetchError(repo.Name, "Fetch", repo.redact(msg), ErrCloneFailed)
	}

	return dir, cleanup, nil
}

// DownloadPackage copies one package out of the repository into destDir and
// returns the package directory path. A non-empty version selects the
// "<package>-<version>" branch; an empty version takes the repository's
// default branch.
func (f *Fetcher) DownloadPackage(ctx context.Context, repo Repository, name, version, destDir string) (string, error) {
	ref := ""
	if version != "" {
		ref = name + "-" + version
	}

	dir, cleanup, err := f.Fetch(ctx, repo, ref)
	if err != nil {
		return "", err
	}
	defer cleanup()

	src := filepath.Join(dir, name)
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return "", NewFetchError(repo.Name, "DownloadPackage",
			fmt.Sprintf("package %q not found in repository %q", name, repo.Name), ErrPackageNotFound)
	}

	dst := filepath.Join(destDir, name)
	if err := copyTree(src, dst); err != nil {
		return "", NewFetchError(repo.Name, "DownloadPackage", err.Error(), ErrDownloadFailed)
	}

	f.logger.Info("downloaded package",
		"repository", repo.Name, "package", name, "version", version, "path", dst)
	return dst, nil
}

// ListPackages returns the descriptors of every package on the repository's
// default branch. Top-level directories whose name starts with "_" or "."
// or that carry no package.yaml are not packages.
func (f *Fetcher) ListPackages(ctx context.Context, repo Repository) ([]*pack.Descriptor, error) {
	dir, cleanup, err := f.Fetch(ctx, repo, "")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return scanDescriptors(repo, dir)
}

// GetPackage returns the descriptor whose name field matches the given
// package name. The directory name does not have to match.
func (f *Fetcher) GetPackage(ctx context.Context, repo Repository, name string) (*pack.Descriptor, error) {
	descriptors, err := f.ListPackages(ctx, repo)
	if err != nil {
		return nil, err
	}
	for _, d := range descriptors {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, NewFetchError(repo.Name, "GetPackage",
		fmt.Sprintf("package %q not found in repository %q", name, repo.Name), ErrPackageNotFound)
}

// =============================================================================
// Helpers
// =============================================================================

func scanDescriptors(repo Repository, dir string) ([]*pack.Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewFetchError(repo.Name, "ListPackages", err.Error(), ErrDownloadFailed)
	}

	var descriptors []*pack.Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name, pack.DescriptorFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, NewFetchError(repo.Name, "ListPackages", err.Error(), ErrDownloadFailed)
		}
		d, err := pack.ParseDescriptor(data)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// copyTree copies a directory tree, merging into an existing destination the
// way repeated downloads overwrite a package in place. Only directories and
// regular files are copied.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
