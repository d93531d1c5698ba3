package build_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/build"
	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/properties"
)

func TestRequest_Args(t *testing.T) {
	tests := []struct {
		name string
		req  build.Request
		want []string
	}{
		{
			name: "minimal",
			req:  build.Request{Goals: []string{"verify"}},
			want: []string{"-B", "verify"},
		},
		{
			name: "all flags",
			req: build.Request{
				PomFile:         "pom.xml",
				SettingsFile:    "/tmp/settings.xml",
				LocalRepository: "/tmp/repo",
				ShowErrors:      true,
				Debug:           true,
				ShowVersion:     true,
				NonRecursive:    true,
				Offline:         true,
				FailureBehavior: properties.FailAtEnd,
				Profiles:        []string{"it", "fast"},
				Properties:      map[string]string{"z": "last", "a": "first"},
				Goals:           []string{"clean", "install"},
			},
			want: []string{
				"-B", "-f", "pom.xml", "-s", "/tmp/settings.xml",
				"-Dmaven.repo.local=/tmp/repo",
				"-e", "-X", "-V", "-N", "-o", "--fail-at-end",
				"-P", "it,fast",
				"-Da=first", "-Dz=last",
				"clean", "install",
			},
		},
		{
			name: "fail never",
			req:  build.Request{FailureBehavior: properties.FailNever},
			want: []string{"-B", "--fail-never"},
		},
		{
			name: "fail fast",
			req:  build.Request{FailureBehavior: properties.FailFast},
			want: []string{"-B", "--fail-fast"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.req.Args()); diff != "" {
				t.Errorf("Args() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequest_Command(t *testing.T) {
	tests := []struct {
		name     string
		req      build.Request
		wantName string
		wantPre  []string
	}{
		{"default", build.Request{}, "mvn", []string{}},
		{"wrapper with flags", build.Request{BaseDirectory: "/work/it0001", Executable: "./mvnw -q"}, filepath.Join("/work/it0001", "mvnw"), []string{"-q"}},
		{"maven home", build.Request{MavenHome: "/opt/maven", Executable: "mvn"}, filepath.Join("/opt/maven", "bin", "mvn"), []string{}},
		{"absolute", build.Request{MavenHome: "/opt/maven", Executable: "/usr/bin/mvn"}, "/usr/bin/mvn", []string{}},
		{"quoted", build.Request{Executable: `mvn "-Dx=a b"`}, "mvn", []string{"-Dx=a b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, pre, err := tt.req.Command()
			if err != nil {
				t.Fatalf("Command failed: %v", err)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if diff := cmp.Diff(tt.wantPre, pre); diff != "" {
				t.Errorf("leading args mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, _, err := (&build.Request{Executable: `mvn "unterminated`}).Command(); err == nil {
		t.Error("expected error for unbalanced quotes")
	}
}

func TestRequest_Env(t *testing.T) {
	req := build.Request{
		Environment: map[string]string{"MAVEN_OPTS": "-Xmx1g", "CI": "true"},
		MavenOpts:   "-Xmx2g",
		JavaHome:    "/opt/jdk",
		MavenHome:   "/opt/maven",
	}

	env := req.Env()
	last := map[string]string{}
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			last[k] = v
		}
	}

	want := map[string]string{"MAVEN_OPTS": "-Xmx2g", "CI": "true", "JAVA_HOME": "/opt/jdk", "M2_HOME": "/opt/maven"}
	for k, v := range want {
		if last[k] != v {
			t.Errorf("%s = %q, want %q", k, last[k], v)
		}
	}
}

func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-mvn")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}
	return path
}

func TestProcessExecutor_Execute(t *testing.T) {
	tool := fakeTool(t, `echo "args: $*"; echo "opts: $MAVEN_OPTS"; pwd; exit 3`)
	dir := t.TempDir()

	var out bytes.Buffer
	exec := build.NewProcessExecutor(logger.NewNopLogger())
	result, err := exec.Execute(context.Background(), &build.Request{
		BaseDirectory: dir,
		Executable:    tool,
		Goals:         []string{"verify"},
		MavenOpts:     "-Dfoo",
	}, &out)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if result.TimedOut {
		t.Error("did not expect a timeout")
	}

	output := out.String()
	for _, want := range []string{"Executing: " + tool, "args: -B verify", "opts: -Dfoo"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestProcessExecutor_Timeout(t *testing.T) {
	tool := fakeTool(t, `exec sleep 10`)

	exec := build.NewProcessExecutor(logger.NewNopLogger())
	start := time.Now()
	result, err := exec.Execute(context.Background(), &build.Request{
		BaseDirectory: t.TempDir(),
		Executable:    tool,
		Timeout:       200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected the build to time out")
	}
	if result.ExitCode == 0 {
		t.Error("a killed build must not report exit code 0")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestProcessExecutor_CannotStart(t *testing.T) {
	exec := build.NewProcessExecutor(logger.NewNopLogger())
	_, err := exec.Execute(context.Background(), &build.Request{
		BaseDirectory: t.TempDir(),
		Executable:    filepath.Join(t.TempDir(), "no-such-tool"),
	}, nil)
	if err == nil {
		t.Fatal("expected an error for a missing executable")
	}
}

func TestLog(t *testing.T) {
	var tee bytes.Buffer
	fs := afero.NewMemMapFs()
	path := filepath.Join("/it", "it0001", build.LogFileName)

	log, err := build.OpenLog(fs, path, &tee)
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	if log.Path() != path {
		t.Errorf("unexpected path %q", log.Path())
	}
	if _, err := log.Write([]byte("[INFO] BUILD SUCCESS\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, _ = log.Write([]byte("after close\n"))

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "=== Build log started at ") {
		t.Errorf("expected banner, got %q", content)
	}
	if !strings.Contains(content, "[INFO] BUILD SUCCESS") || strings.Contains(content, "after close") {
		t.Errorf("unexpected log content %q", content)
	}
	if tee.String() != "[INFO] BUILD SUCCESS\n" {
		t.Errorf("unexpected tee content %q", tee.String())
	}
}

func TestLog_NoFile(t *testing.T) {
	log, err := build.OpenLog(nil, "", nil)
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	if _, err := log.Write([]byte("discarded")); err != nil {
		t.Errorf("write failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}
