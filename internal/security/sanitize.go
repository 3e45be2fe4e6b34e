package security

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxApplicationIDLength bounds application ids taken from URL paths
	MaxApplicationIDLength = 128

	// MaxDeploymentIDLength bounds deployment business keys
	MaxDeploymentIDLength = 256
)

var (
	// Safe patterns for validation
	applicationPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)
	deploymentPattern  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:@/+-]*$`)
	repositoryPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+/[a-zA-Z0-9_.-]+$`)
	environmentPattern = regexp.MustCompile(`^[a-zA-Z0-9/_.-]+$`)
)

// ValidateApplicationID ensures an application id is safe for use in paths,
// queries and hierarchy lookups.
func ValidateApplicationID(id string) error {
	if id == "" {
		return fmt.Errorf("application id cannot be empty")
	}
	if len(id) > MaxApplicationIDLength {
		return fmt.Errorf("application id too long (maximum %d characters)", MaxApplicationIDLength)
	}
	if !applicationPattern.MatchString(id) {
		return fmt.Errorf("application id contains invalid characters (only a-z, A-Z, 0-9, _, ., :, - allowed)")
	}
	return nil
}

// ValidateDeploymentID ensures a deployment business key is printable and
// bounded. Slashes and '@' are allowed so "owner/repo@sha" keys pass.
func ValidateDeploymentID(id string) error {
	if id == "" {
		return fmt.Errorf("deployment id cannot be empty")
	}
	if len(id) > MaxDeploymentIDLength {
		return fmt.Errorf("deployment id too long (maximum %d characters)", MaxDeploymentIDLength)
	}
	if !deploymentPattern.MatchString(id) {
		return fmt.Errorf("deployment id contains invalid characters")
	}
	return nil
}

// ValidateRepository ensures an "owner/name" GitHub repository reference is
// well formed.
func ValidateRepository(repo string) (owner, name string, err error) {
	if !repositoryPattern.MatchString(repo) {
		return "", "", fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	if strings.Contains(repo, "..") {
		return "", "", fmt.Errorf("repository contains traversal elements: %q", repo)
	}
	owner, name, _ = strings.Cut(repo, "/")
	return owner, name, nil
}

// ValidateEnvironmentName ensures a deployment environment name is safe to
// pass to the GitHub API.
func ValidateEnvironmentName(env string) error {
	if env == "" {
		return fmt.Errorf("environment name cannot be empty")
	}
	if strings.HasPrefix(env, "-") {
		return fmt.Errorf("environment name cannot start with '-'")
	}
	if !environmentPattern.MatchString(env) {
		return fmt.Errorf("environment name contains invalid characters")
	}
	return nil
}
