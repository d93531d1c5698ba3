// Package install stages a project's POM and artifact into a local
// repository so jobs can resolve them without a remote.
package install

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/logger"
	"github.com/poltergeist/invoker/pkg/utils"
)

// DefaultPackaging applies when the POM declares none
const DefaultPackaging = "jar"

// Coordinates identify an artifact in a repository
type Coordinates struct {
	GroupID    string
	ArtifactID string
	Version    string
	Packaging  string
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", c.GroupID, c.ArtifactID, c.Packaging, c.Version)
}

// Dir returns the artifact's directory in the repository:
// <groupId as path>/<artifactId>/<version>
func (c Coordinates) Dir(repository string) string {
	parts := append([]string{repository}, strings.Split(c.GroupID, ".")...)
	parts = append(parts, c.ArtifactID, c.Version)
	return filepath.Join(parts...)
}

// FileName returns artifactId-version[-classifier].ext
func (c Coordinates) FileName(classifier, ext string) string {
	name := c.ArtifactID + "-" + c.Version
	if classifier != "" {
		name += "-" + classifier
	}
	return name + "." + ext
}

type pomParent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomProject struct {
	XMLName    xml.Name  `xml:"project"`
	Parent     pomParent `xml:"parent"`
	GroupID    string    `xml:"groupId"`
	ArtifactID string    `xml:"artifactId"`
	Version    string    `xml:"version"`
	Packaging  string    `xml:"packaging"`
}

// ParsePom reads the coordinates of a POM. groupId and version are
// inherited from <parent> when the project does not declare them.
func ParsePom(data []byte) (*Coordinates, error) {
	var project pomProject
	if err := xml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parsing pom.xml: %w", err)
	}

	c := &Coordinates{
		GroupID:    strings.TrimSpace(project.GroupID),
		ArtifactID: strings.TrimSpace(project.ArtifactID),
		Version:    strings.TrimSpace(project.Version),
		Packaging:  strings.TrimSpace(project.Packaging),
	}
	if c.GroupID == "" {
		c.GroupID = strings.TrimSpace(project.Parent.GroupID)
	}
	if c.Version == "" {
		c.Version = strings.TrimSpace(project.Parent.Version)
	}
	if c.Packaging == "" {
		c.Packaging = DefaultPackaging
	}

	for name, value := range map[string]string{"groupId": c.GroupID, "artifactId": c.ArtifactID, "version": c.Version} {
		if value == "" {
			return nil, fmt.Errorf("pom.xml has no %s", name)
		}
		if strings.Contains(value, "${") {
			return nil, fmt.Errorf("pom.xml %s %q contains an unresolved expression", name, value)
		}
	}
	return c, nil
}

// Options select what to install
type Options struct {
	Pom        string
	File       string
	Classifier string
}

// Result lists the files written to the repository
type Result struct {
	Coordinates Coordinates
	Files       []string
}

// Installer copies artifacts into a repository directory
type Installer struct {
	fsu        *utils.FileSystemUtils
	log        logger.Logger
	repository string
}

// New creates an installer for the repository directory. A nil fs means
// the OS filesystem.
func New(fs afero.Fs, log logger.Logger, repository string) *Installer {
	return &Installer{fsu: utils.NewFileSystemUtils(fs), log: log, repository: repository}
}

// Install copies the POM and, if given, the artifact file
func (i *Installer) Install(opts Options) (*Result, error) {
	if i.repository == "" {
		return nil, fmt.Errorf("no local repository configured")
	}

	data, err := i.fsu.ReadFile(opts.Pom)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.Pom, err)
	}
	coords, err := ParsePom(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Pom, err)
	}

	dir := coords.Dir(i.repository)
	result := &Result{Coordinates: *coords}

	pomTarget := filepath.Join(dir, coords.FileName("", "pom"))
	if err := i.fsu.CopyFile(opts.Pom, pomTarget); err != nil {
		return nil, fmt.Errorf("failed to install POM: %w", err)
	}
	result.Files = append(result.Files, pomTarget)

	if opts.File != "" {
		if !i.fsu.IsFile(opts.File) {
			return nil, fmt.Errorf("artifact file does not exist: %s", opts.File)
		}
		ext := strings.TrimPrefix(filepath.Ext(opts.File), ".")
		if ext == "" {
			ext = coords.Packaging
		}
		target := filepath.Join(dir, coords.FileName(opts.Classifier, ext))
		if err := i.fsu.CopyFile(opts.File, target); err != nil {
			return nil, fmt.Errorf("failed to install artifact: %w", err)
		}
		result.Files = append(result.Files, target)
	} else if coords.Packaging != "pom" {
		i.log.Warn(fmt.Sprintf("No artifact file given for %s, installing the POM only", coords))
	}

	i.log.Info(fmt.Sprintf("Installed %s to %s", coords, dir))
	return result, nil
}
