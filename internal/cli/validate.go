package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goibibo/beatshim/internal/config"
)

const defaultConfigDir = "/etc/beatshim/flows"

// RunValidate validates flow configuration files.
func RunValidate(args []string) error {
	return runValidate(args, os.Stdout, os.Stderr)
}

func runValidate(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help") {
		_, _ = fmt.Fprintf(stdout, "Usage: beatshim validate [path]\n\nValidates all flow YAML files in the given directory (default: %s).\n", defaultConfigDir)
		return nil
	}

	dir := defaultConfigDir
	if len(args) > 0 && args[0] != "" {
		dir = args[0]
	}

	allErrors, err := validateFlowDir(dir, stdout, stderr)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}

	if len(allErrors) == 0 {
		_, _ = fmt.Fprintln(stdout, "All configurations are valid.")
		return nil
	}

	_, _ = fmt.Fprintf(stderr, "Found %d validation error(s):\n\n", len(allErrors))
	for _, ve := range allErrors {
		_, _ = fmt.Fprintf(stderr, "  %s\n    field: %s\n    error: %s\n\n", ve.File, ve.Field, ve.Message)
	}

	return fmt.Errorf("%d validation error(s) found", len(allErrors))
}

type validationError struct {
	File    string
	Field   string
	Message string
}

func validateFlowDir(dir string, stdout, stderr io.Writer) ([]validationError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var errs []validationError
	names := make(map[string]string)
	fileCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !config.IsYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fileCount++
		flow, fileErrs := validateFlowFile(path)
		errs = append(errs, fileErrs...)
		if flow == nil || flow.Name == "" {
			continue
		}
		if prev, dup := names[flow.Name]; dup {
			errs = append(errs, validationError{
				File:    path,
				Field:   "name",
				Message: fmt.Sprintf("duplicate flow name %q, also defined in %s", flow.Name, prev),
			})
			continue
		}
		names[flow.Name] = path
	}

	if fileCount == 0 {
		_, _ = fmt.Fprintf(stderr, "warning: no YAML files found in %s\n", dir)
	} else {
		_, _ = fmt.Fprintf(stdout, "Validated %d flow file(s) in %s\n", fileCount, dir)
	}

	return errs, nil
}

func validateFlowFile(path string) (*config.FlowDefinition, []validationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []validationError{{File: path, Field: "-", Message: fmt.Sprintf("read error: %v", err)}}
	}

	var flow config.FlowDefinition
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, []validationError{{File: path, Field: "-", Message: fmt.Sprintf("YAML parse error: %v", err)}}
	}

	var errs []validationError
	if err := flow.Validate(); err != nil {
		for _, msg := range splitErrors(err) {
			errs = append(errs, validationError{File: path, Field: inferField(msg), Message: msg})
		}
	}
	return &flow, errs
}

// splitErrors breaks an errors.Join result into individual error strings.
func splitErrors(err error) []string {
	if err == nil {
		return nil
	}
	parts := strings.Split(err.Error(), "\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// inferField extracts a field name from an error message such as
// "interceptors[0].type: unknown type".
func inferField(msg string) string {
	if idx := strings.Index(msg, ": "); idx > 0 {
		prefix := msg[:idx]
		if !strings.Contains(prefix, " ") {
			return prefix
		}
	}
	parts := strings.Fields(msg)
	if len(parts) > 0 {
		return parts[0]
	}
	return "-"
}
