package templates

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deploymetrics/pkg/fileutil"
)

// Template names
const (
	ConfigFile     = "config"
	SystemdService = "systemd-service"
)

//go:embed files/*.template
var builtin embed.FS

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// GetTemplatePaths returns the override search paths for a template
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "deploymetrics", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// Overrides are looked up in the following order before the built-in copy:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. /etc/deploymetrics/templates/<name>.template
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	if path := fileutil.SearchPathsOptional(GetTemplatePaths(name)); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read template override: %w", err)
		}
		return string(content), nil
	}

	content, err := builtin.ReadFile("files/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("built-in template missing: %s", name)
	}
	return string(content), nil
}

// Render renders a template with the given data.
// Uses {{PLACEHOLDER}} syntax for variable substitution. Placeholders left
// unfilled are an error.
//
// Example:
//   rendered, err := Render(ConfigFile, TemplateData{"PORT": "5000"})
func Render(templateName string, data TemplateData) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	rendered := strings.NewReplacer(pairs...).Replace(tmplContent)

	if missing := placeholders(rendered); len(missing) > 0 {
		return "", fmt.Errorf("template %s has unfilled placeholders: %s", templateName, strings.Join(missing, ", "))
	}

	return rendered, nil
}

// RenderConfig renders a starter configuration file
func RenderConfig(host string, port int, dbPath, ingestSecret string) (string, error) {
	return Render(ConfigFile, TemplateData{
		"HOST":          host,
		"PORT":          fmt.Sprintf("%d", port),
		"DB_PATH":       dbPath,
		"INGEST_SECRET": ingestSecret,
	})
}

// RenderSystemdService renders the systemd service template.
func RenderSystemdService(user, group, workingDir, binary, configFile, logFile string) (string, error) {
	return Render(SystemdService, TemplateData{
		"USER":        user,
		"GROUP":       group,
		"WORKING_DIR": workingDir,
		"BINARY":      binary,
		"CONFIG_FILE": configFile,
		"LOG_FILE":    logFile,
	})
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		ConfigFile,
		SystemdService,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	for _, known := range ListTemplates() {
		if name == known {
			return true
		}
	}
	return false
}

func placeholders(s string) []string {
	seen := make(map[string]bool)
	for {
		start := strings.Index(s, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			break
		}
		seen[s[start+2:start+end]] = true
		s = s[start+end+2:]
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
