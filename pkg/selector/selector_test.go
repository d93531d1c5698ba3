package selector_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/invoker/pkg/properties"
	"github.com/poltergeist/invoker/pkg/selector"
)

func TestMatchVersion(t *testing.T) {
	tests := []struct {
		requirement string
		actual      string
		want        bool
	}{
		{"3.0+", "3.9.6", true},
		{"3.0+", "2.2.1", false},
		{"3.6.3+", "3.6.3", true},
		{"3.8", "3.8.7", true},
		{"3.8", "3.9.0", false},
		{"3", "3.9.0", true},
		{"1.8", "1.8.0_292", true},
		{"1.8+", "17.0.2", true},
		{"1.8+, !9", "9.0.4", false},
		{"1.8+, !9", "11.0.1", true},
		{"!1.7", "1.8.0", true},
		{"!1.7", "1.7.0_80", false},
		{"1.7, 11", "11.0.20", true},
		{"1.7, 11", "17", false},
		{"17+", "21-ea", true},
		{"", "3.9.6", true},
	}

	for _, tt := range tests {
		got, err := selector.MatchVersion(tt.requirement, tt.actual)
		require.NoError(t, err, "requirement %q", tt.requirement)
		assert.Equal(t, tt.want, got, "MatchVersion(%q, %q)", tt.requirement, tt.actual)
	}
}

func TestMatchVersion_Invalid(t *testing.T) {
	_, err := selector.MatchVersion("3.0+", "unknown")
	assert.Error(t, err)
	_, err = selector.MatchVersion("latest+", "3.9.6")
	assert.Error(t, err)
}

func TestMatchOSFamily(t *testing.T) {
	tests := []struct {
		requirement string
		goos        string
		want        bool
	}{
		{"unix", "linux", true},
		{"unix", "darwin", true},
		{"mac", "darwin", true},
		{"mac", "linux", false},
		{"windows", "windows", true},
		{"!windows", "windows", false},
		{"!windows", "linux", true},
		{"windows, mac", "linux", false},
		{"Windows, mac", "windows", true},
		{"linux", "linux", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, selector.MatchOSFamily(tt.requirement, tt.goos), "MatchOSFamily(%q, %q)", tt.requirement, tt.goos)
	}
}

func TestEvaluate(t *testing.T) {
	env := selector.Environment{MavenVersion: "3.9.6", JavaVersion: "17.0.2", GOOS: "linux"}

	out, err := selector.Evaluate(properties.New(nil), env)
	require.NoError(t, err)
	assert.True(t, out.Satisfied())

	out, err = selector.Evaluate(properties.New(map[string]string{
		"invoker.maven.version": "4.0+",
		"invoker.java.version":  "11+",
		"invoker.os.family":     "windows",
	}), env)
	require.NoError(t, err)
	assert.False(t, out.Satisfied())
	assert.Equal(t, []string{selector.ConditionMavenVersion, selector.ConditionOSFamily}, out.Unsatisfied)

	out, err = selector.Evaluate(properties.New(map[string]string{
		"invoker.java.version": "21+",
	}), selector.Environment{MavenVersion: "3.9.6", GOOS: "linux"})
	require.NoError(t, err)
	assert.True(t, out.Satisfied(), "unknown versions do not rule a job out")
	assert.Equal(t, []string{selector.ConditionJavaVersion}, out.Unknown)

	_, err = selector.Evaluate(properties.New(map[string]string{
		"invoker.maven.version": "new+",
	}), env)
	assert.Error(t, err)
}

func TestParseVersions(t *testing.T) {
	mvn := "Apache Maven 3.9.6 (bc0240f3c744dd6b6ec2920b3cd08dcc295161ae)\nMaven home: /opt/maven\nJava version: 17.0.2"
	assert.Equal(t, "3.9.6", selector.ParseMavenVersion(mvn))
	assert.Equal(t, "4.1", selector.ParseMavenVersion("fake build tool 4.1"))
	assert.Equal(t, "", selector.ParseMavenVersion("no version here"))

	java := "openjdk version \"17.0.2\" 2022-01-18\nOpenJDK Runtime Environment"
	assert.Equal(t, "17.0.2", selector.ParseJavaVersion(java))
	assert.Equal(t, "1.8.0_292", selector.ParseJavaVersion("java version \"1.8.0_292\""))
}

func TestDetectMavenVersion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}

	script := filepath.Join(t.TempDir(), "mvn")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"Apache Maven 3.8.8 (fake)\"\n"), 0o755))

	v, err := selector.DetectMavenVersion(context.Background(), []string{script}, os.Environ())
	require.NoError(t, err)
	assert.Equal(t, "3.8.8", v)

	_, err = selector.DetectMavenVersion(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, nil)
	assert.Error(t, err)

	_, err = selector.DetectMavenVersion(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestCurrentEnvironment(t *testing.T) {
	env := selector.CurrentEnvironment("3.9.6", "17")
	assert.Equal(t, runtime.GOOS, env.GOOS)
}
