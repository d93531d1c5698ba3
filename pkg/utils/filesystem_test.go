package utils_test

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/utils"
)

func TestFileSystemUtils_WriteAndRead(t *testing.T) {
	fsu := utils.NewFileSystemUtils(afero.NewMemMapFs())

	if err := fsu.WriteFile("/reports/BUILD-it0001.xml", []byte("<build-job/>")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if !fsu.IsDirectory("/reports") {
		t.Error("parent directory must be created")
	}
	if fsu.Exists("/reports/BUILD-it0001.xml.tmp") {
		t.Error("temporary file must be renamed away")
	}

	data, err := fsu.ReadFile("/reports/BUILD-it0001.xml")
	if err != nil || string(data) != "<build-job/>" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
	if !fsu.IsFile("/reports/BUILD-it0001.xml") || fsu.IsFile("/reports") {
		t.Error("IsFile mismatch")
	}
}

func TestFileSystemUtils_CopyTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	fsu := utils.NewFileSystemUtils(fs)

	files := map[string]string{
		"/src/it/it0001/pom.xml":           "<project/>",
		"/src/it/it0001/src/main/App.java": "class App {}",
		"/src/it/it0001/.git/HEAD":         "ref",
		"/src/it/it0002/pom.xml":           "<project/>",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	sel, err := utils.NewPathSelector([]string{"**"}, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	n, err := fsu.CopyTree("/src/it", "/target/it", func(rel string, isDir bool) bool {
		return !sel.IsExcluded(rel)
	})
	if err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 files copied, got %d", n)
	}

	var copied []string
	for path := range files {
		target := strings.Replace(path, "/src/it", "/target/it", 1)
		if fsu.Exists(target) {
			copied = append(copied, filepath.ToSlash(target))
		}
	}
	sort.Strings(copied)

	want := []string{
		"/target/it/it0001/pom.xml",
		"/target/it/it0001/src/main/App.java",
		"/target/it/it0002/pom.xml",
	}
	if strings.Join(copied, ",") != strings.Join(want, ",") {
		t.Errorf("copied %v, want %v", copied, want)
	}
}

func TestRelativeSlashPath(t *testing.T) {
	rel, err := utils.RelativeSlashPath("/work/src/it", "/work/src/it/group/it0001/pom.xml")
	if err != nil || rel != "group/it0001/pom.xml" {
		t.Errorf("RelativeSlashPath = %q, %v", rel, err)
	}
}
