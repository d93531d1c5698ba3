package selector

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
)

var (
	mavenVersionPattern = regexp.MustCompile(`Apache Maven (\d+(?:\.\d+)*\S*)`)
	javaVersionPattern  = regexp.MustCompile(`version "([^"]+)"`)
	anyVersionPattern   = regexp.MustCompile(`\d+\.\d+(?:\.\d+)*`)
)

// DetectMavenVersion runs "<command> --version" and extracts the version
func DetectMavenVersion(ctx context.Context, command []string, env []string) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("no build executable")
	}

	args := append(append([]string{}, command[1:]...), "--version")
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w", command[0], err)
	}

	if v := ParseMavenVersion(string(output)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no version in output of %s --version", command[0])
}

// DetectJavaVersion runs "java -version" from javaHome (or PATH when empty)
func DetectJavaVersion(ctx context.Context, javaHome string) (string, error) {
	java := "java"
	if javaHome != "" {
		java = filepath.Join(javaHome, "bin", "java")
	}

	output, err := exec.CommandContext(ctx, java, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run %s -version: %w", java, err)
	}

	if v := ParseJavaVersion(string(output)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no version in output of %s -version", java)
}

// ParseMavenVersion extracts the version from "mvn --version" output,
// falling back to the first version-looking token.
func ParseMavenVersion(output string) string {
	if m := mavenVersionPattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return anyVersionPattern.FindString(output)
}

// ParseJavaVersion extracts the version from "java -version" output
func ParseJavaVersion(output string) string {
	if m := javaVersionPattern.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return anyVersionPattern.FindString(output)
}
