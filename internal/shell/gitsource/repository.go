// Package gitsource fetches packages from git catalog repositories using the
// git binary.
package gitsource

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultBranch is used when a repository declares no branch.
const DefaultBranch = "main"

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	urlPattern  = regexp.MustCompile(`^https?://.*\.git$|^git@.*:.*\.git$`)
)

// Repository is a git repository holding a package catalog. Package
// directories live at the top level of the repository tree.
type Repository struct {
	Name     string
	URL      string
	Branch   string
	Username string
	Token    string
}

// Validate checks the repository definition. It is called when repositories
// are loaded from configuration, before any fetch uses them.
func (r Repository) Validate() error {
	if !namePattern.MatchString(r.Name) {
		return NewFetchError(r.Name, "Validate",
			"repository name may only contain alphanumeric characters, '-' and '_'", ErrInvalidRepository)
	}
	if !urlPattern.MatchString(r.URL) {
		return NewFetchError(r.Name, "Validate",
			fmt.Sprintf("invalid git URL %q, expected https://host/path.git or git@host:path.git", r.URL),
			ErrInvalidRepository)
	}
	return nil
}

// CloneURL returns the URL to clone from. When both username and token are
// set on an https repository the credentials are embedded in the URL. The
// result must never be logged; use URL for display.
func (r Repository) CloneURL() string {
	if r.Username != "" && r.Token != "" && strings.HasPrefix(r.URL, "https://") {
		return "https://" + r.Username + ":" + r.Token + "@" + strings.TrimPrefix(r.URL, "https://")
	}
	return r.URL
}

// ref returns the branch to fetch when the caller does not name one.
func (r Repository) ref() string {
	if r.Branch != "" {
		return r.Branch
	}
	return DefaultBranch
}

// redact masks the repository token in text. git prints the clone URL in its
// error output, so everything captured from it goes through here.
func (r Repository) redact(text string) string {
	if r.Token == "" {
		return text
	}
	return strings.ReplaceAll(text, r.Token, "*****")
}
