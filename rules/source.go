// Package rules manages the detection rule corpus: obtaining the
// on-disk rule repository, loading and parsing rule files, and keeping
// the per-rule enabled state reconciled with the external store.
package rules

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// SourceMode selects who owns the rule repository on disk.
type SourceMode string

const (
	// ModeExternal expects a co-deployed process to provision the
	// repository; Ensure only verifies it.
	ModeExternal SourceMode = "external"
	// ModeGit makes the engine clone or update the repository itself.
	ModeGit SourceMode = "git"
)

var validBranch = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// Source guarantees a populated rule directory exists before a load.
type Source struct {
	mode    SourceMode
	root    string
	repoURL string
	branch  string
	logger  *zap.SugaredLogger
}

// NewSource creates a rule corpus source rooted at root. repoURL and
// branch are only used in git mode.
func NewSource(mode SourceMode, root, repoURL, branch string, logger *zap.SugaredLogger) *Source {
	if branch == "" {
		branch = "master"
	}
	return &Source{
		mode:    mode,
		root:    root,
		repoURL: repoURL,
		branch:  branch,
		logger:  logger,
	}
}

// RulesDir is the directory holding the YAML corpus beneath the
// repository root.
func (s *Source) RulesDir() string {
	return filepath.Join(s.root, "rules")
}

// RootExists reports whether the repository root directory is present.
// Used by the health check to distinguish "never provisioned" from
// "provisioned but degraded".
func (s *Source) RootExists() bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

// Ensure verifies a populated rule corpus is on disk, cloning or
// updating the remote repository first when self-managing. It returns
// false instead of an error on any failure so callers can retry.
func (s *Source) Ensure(ctx context.Context) bool {
	if s.mode == ModeGit {
		if err := s.syncRepository(ctx); err != nil {
			s.logger.Errorw("Failed to sync rules repository", "error", err, "url", s.repoURL)
			return false
		}
	}

	if !s.RootExists() {
		s.logger.Warnw("Rules root does not exist", "path", s.root)
		return false
	}

	rulesDir := s.RulesDir()
	if info, err := os.Stat(rulesDir); err != nil || !info.IsDir() {
		s.logger.Warnw("Rules subdirectory does not exist", "path", rulesDir)
		return false
	}

	if !hasRuleFiles(rulesDir) {
		s.logger.Warnw("Rules directory contains no rule files", "path", rulesDir)
		return false
	}

	return true
}

// syncRepository clones the rules repository, or fetches and resets an
// existing clone to the remote branch head.
func (s *Source) syncRepository(ctx context.Context) error {
	if err := validateGitURL(s.repoURL); err != nil {
		return err
	}
	if err := validateBranchName(s.branch); err != nil {
		return err
	}
	if err := exec.Command("git", "--version").Run(); err != nil {
		return fmt.Errorf("git is not installed or not in PATH")
	}

	if _, err := os.Stat(filepath.Join(s.root, ".git")); err == nil {
		s.logger.Infow("Updating rules repository", "path", s.root)

		cmd := exec.CommandContext(ctx, "git", "-C", s.root, "fetch", "origin", s.branch)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}

		cmd = exec.CommandContext(ctx, "git", "-C", s.root, "reset", "--hard", "origin/"+s.branch)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to reset: %w", err)
		}

		return nil
	}

	s.logger.Infow("Cloning rules repository", "url", s.repoURL, "path", s.root)

	if err := os.MkdirAll(filepath.Dir(s.root), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// The target may exist but not be a repository (stale volume);
	// clear its contents so clone does not refuse a non-empty dir.
	if err := clearDirectory(s.root); err != nil {
		return fmt.Errorf("failed to clear rules directory: %w", err)
	}

	args := []string{"clone", "--depth", "1", "--branch", s.branch, s.repoURL, s.root}
	cmd := exec.CommandContext(ctx, "git", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w (output: %s)", err, string(output))
	}

	s.logger.Infow("Rules repository cloned", "url", s.repoURL)
	return nil
}

// hasRuleFiles walks dir until the first YAML file is found.
func hasRuleFiles(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if isRuleFile(path) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

// isRuleFile reports whether path has a YAML extension.
func isRuleFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml"
}

// clearDirectory removes the contents of dir but keeps dir itself.
// Missing dir is not an error.
func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// validateGitURL allows only https and git schemes to prevent
// command injection through the URL argument.
func validateGitURL(gitURL string) error {
	parsed, err := url.Parse(gitURL)
	if err != nil {
		return fmt.Errorf("invalid git URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "git" {
		return fmt.Errorf("invalid git URL scheme - only https:// and git:// allowed, got: %s", parsed.Scheme)
	}
	return nil
}

// validateBranchName rejects branch names that could be interpreted as
// git flags or traverse paths.
func validateBranchName(branch string) error {
	if len(branch) == 0 || len(branch) > 255 {
		return fmt.Errorf("invalid branch name length - must be 1-255 characters")
	}
	if branch[0] == '-' {
		return fmt.Errorf("invalid branch name - cannot start with '-'")
	}
	if branch[0] == '/' || branch[len(branch)-1] == '/' {
		return fmt.Errorf("invalid branch name - cannot start or end with '/'")
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("invalid branch name - cannot contain '..'")
	}
	if !validBranch.MatchString(branch) {
		return fmt.Errorf("invalid branch name - only alphanumeric characters, /, -, _, and . allowed")
	}
	return nil
}
