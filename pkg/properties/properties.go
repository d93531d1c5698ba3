// Package properties reads the per-job invoker.properties file and resolves
// invocation settings through an index-specific overlay ("key.N" over "key").
package properties

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
	"github.com/spf13/afero"

	"github.com/poltergeist/invoker/pkg/interpolate"
)

// Job-level keys
const (
	KeyName         = "invoker.name"
	KeyDescription  = "invoker.description"
	KeyMavenVersion = "invoker.maven.version"
	KeyJavaVersion  = "invoker.java.version"
	KeyOSFamily     = "invoker.os.family"
)

// Invocation keys, each may carry a ".N" suffix
const (
	KeyProject              = "invoker.project"
	KeyGoals                = "invoker.goals"
	KeyProfiles             = "invoker.profiles"
	KeyMavenOpts            = "invoker.mavenOpts"
	KeyFailureBehavior      = "invoker.failureBehavior"
	KeyNonRecursive         = "invoker.nonRecursive"
	KeyOffline              = "invoker.offline"
	KeyDebug                = "invoker.debug"
	KeySystemPropertiesFile = "invoker.systemPropertiesFile"
	KeyBuildResult          = "invoker.buildResult"
	KeyTimeoutInSeconds     = "invoker.timeoutInSeconds"
	KeyEnvironmentPrefix    = "invoker.environmentVariables."
)

var invocationKeys = []string{
	KeyProject,
	KeyGoals,
	KeyProfiles,
	KeyMavenOpts,
	KeyFailureBehavior,
	KeyNonRecursive,
	KeyOffline,
	KeyDebug,
	KeySystemPropertiesFile,
	KeyBuildResult,
	KeyTimeoutInSeconds,
}

// FailureBehavior controls how the build tool reacts to module failures
type FailureBehavior string

const (
	FailFast    FailureBehavior = "fail-fast"
	FailAtEnd   FailureBehavior = "fail-at-end"
	FailNever   FailureBehavior = "fail-never"
	FailDefault FailureBehavior = ""
)

// BuildResult is the outcome an invocation is expected to have
type BuildResult string

const (
	ExpectSuccess BuildResult = "success"
	ExpectFailure BuildResult = "failure"
)

// InvokerProperties is an immutable view over a job's properties file
type InvokerProperties struct {
	props *properties.Properties
}

// New creates InvokerProperties from a map, mainly for tests and for jobs
// without a properties file.
func New(values map[string]string) *InvokerProperties {
	p := properties.NewProperties()
	p.DisableExpansion = true
	for k, v := range values {
		_, _, _ = p.Set(k, v)
	}
	return &InvokerProperties{props: p}
}

// Parse parses properties text and interpolates ${key} in every value.
// ip may be nil.
func Parse(data []byte, ip *interpolate.Interpolator) (*InvokerProperties, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	raw, err := loader.LoadBytes(data)
	if err != nil {
		return nil, err
	}

	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, key := range raw.Keys() {
		value, _ := raw.Get(key)
		if ip != nil {
			value = ip.Expression(value)
		}
		if _, _, err := p.Set(key, value); err != nil {
			return nil, err
		}
	}
	return &InvokerProperties{props: p}, nil
}

// Load reads the properties file at path. A missing file yields empty
// properties; an unreadable or malformed file is an error.
func Load(fs afero.Fs, path string, ip *interpolate.Interpolator) (*InvokerProperties, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("failed to read invoker properties %s: %w", path, err)
	}

	p, err := Parse(data, ip)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoker properties %s: %w", path, err)
	}
	return p, nil
}

// LoadMap reads a plain properties file (test.properties, system
// properties files) into a map without interpolation.
func LoadMap(fs afero.Fs, path string) (map[string]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties %s: %w", path, err)
	}

	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties %s: %w", path, err)
	}

	values := make(map[string]string, p.Len())
	for _, key := range p.Keys() {
		values[key], _ = p.Get(key)
	}
	return values, nil
}

// Get returns the raw value for key
func (p *InvokerProperties) Get(key string) (string, bool) {
	return p.props.Get(key)
}

// Keys returns all keys in file order
func (p *InvokerProperties) Keys() []string {
	return p.props.Keys()
}

// JobName returns invoker.name
func (p *InvokerProperties) JobName() string {
	return p.value(KeyName)
}

// JobDescription returns invoker.description
func (p *InvokerProperties) JobDescription() string {
	return p.value(KeyDescription)
}

// MavenVersion returns the invoker.maven.version selector condition
func (p *InvokerProperties) MavenVersion() string {
	return p.value(KeyMavenVersion)
}

// JavaVersion returns the invoker.java.version selector condition
func (p *InvokerProperties) JavaVersion() string {
	return p.value(KeyJavaVersion)
}

// OSFamily returns the invoker.os.family selector condition
func (p *InvokerProperties) OSFamily() string {
	return p.value(KeyOSFamily)
}

func (p *InvokerProperties) value(key string) string {
	v, _ := p.props.Get(key)
	return strings.TrimSpace(v)
}

// IsInvocationDefined reports whether any invocation key is qualified
// with index. Unqualified keys alone never define an invocation.
func (p *InvokerProperties) IsInvocationDefined(index int) bool {
	suffix := "." + strconv.Itoa(index)
	for _, key := range invocationKeys {
		if _, ok := p.props.Get(key + suffix); ok {
			return true
		}
	}
	for _, key := range p.props.Keys() {
		if strings.HasPrefix(key, KeyEnvironmentPrefix) && strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// Invocations returns the invocations to run: always the first, then
// every following index as long as it is defined.
func (p *InvokerProperties) Invocations() []Invocation {
	invocations := []Invocation{p.Invocation(1)}
	for index := 2; p.IsInvocationDefined(index); index++ {
		invocations = append(invocations, p.Invocation(index))
	}
	return invocations
}

// Invocation returns the layered view for the given 1-based index
func (p *InvokerProperties) Invocation(index int) Invocation {
	return Invocation{Index: index, props: p}
}

// Invocation resolves keys for one invocation: the index-qualified key
// overrides the unqualified default.
type Invocation struct {
	Index int
	props *InvokerProperties
}

// Get looks up key.N, then key
func (iv Invocation) Get(key string) (string, bool) {
	if v, ok := iv.props.props.Get(key + "." + strconv.Itoa(iv.Index)); ok {
		return v, true
	}
	return iv.props.props.Get(key)
}

// Goals returns the goals for this invocation and whether they were set
func (iv Invocation) Goals() ([]string, bool) {
	v, ok := iv.Get(KeyGoals)
	if !ok {
		return nil, false
	}
	return SplitTokens(v), true
}

// Profiles returns the profiles for this invocation and whether they were set
func (iv Invocation) Profiles() ([]string, bool) {
	v, ok := iv.Get(KeyProfiles)
	if !ok {
		return nil, false
	}
	return SplitTokens(v), true
}

// Project returns the POM path relative to the job directory, if set.
// An empty value means a POM-less invocation.
func (iv Invocation) Project() (string, bool) {
	v, ok := iv.Get(KeyProject)
	return strings.TrimSpace(v), ok
}

// MavenOpts returns MAVEN_OPTS for this invocation, if set
func (iv Invocation) MavenOpts() (string, bool) {
	v, ok := iv.Get(KeyMavenOpts)
	return strings.TrimSpace(v), ok
}

// FailureBehavior returns the failure behavior, FailDefault when unset
func (iv Invocation) FailureBehavior() (FailureBehavior, error) {
	v, ok := iv.Get(KeyFailureBehavior)
	if !ok || strings.TrimSpace(v) == "" {
		return FailDefault, nil
	}
	switch fb := FailureBehavior(strings.TrimSpace(v)); fb {
	case FailFast, FailAtEnd, FailNever:
		return fb, nil
	default:
		return FailDefault, fmt.Errorf("invalid %s: %q", KeyFailureBehavior, v)
	}
}

// NonRecursive reports invoker.nonRecursive
func (iv Invocation) NonRecursive() bool {
	return iv.boolean(KeyNonRecursive)
}

// Offline reports invoker.offline and whether it was set
func (iv Invocation) Offline() (bool, bool) {
	_, ok := iv.Get(KeyOffline)
	return iv.boolean(KeyOffline), ok
}

// Debug reports invoker.debug and whether it was set
func (iv Invocation) Debug() (bool, bool) {
	_, ok := iv.Get(KeyDebug)
	return iv.boolean(KeyDebug), ok
}

func (iv Invocation) boolean(key string) bool {
	v, _ := iv.Get(key)
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// SystemPropertiesFile returns invoker.systemPropertiesFile
func (iv Invocation) SystemPropertiesFile() string {
	v, _ := iv.Get(KeySystemPropertiesFile)
	return strings.TrimSpace(v)
}

// ExpectedResult returns the declared build outcome, success by default
func (iv Invocation) ExpectedResult() BuildResult {
	v, _ := iv.Get(KeyBuildResult)
	if strings.EqualFold(strings.TrimSpace(v), string(ExpectFailure)) {
		return ExpectFailure
	}
	return ExpectSuccess
}

// IsExpectedResult checks an exit code against the declared outcome
func (iv Invocation) IsExpectedResult(exitCode int) bool {
	if iv.ExpectedResult() == ExpectFailure {
		return exitCode != 0
	}
	return exitCode == 0
}

// Timeout returns invoker.timeoutInSeconds, zero when unset
func (iv Invocation) Timeout() (time.Duration, error) {
	v, ok := iv.Get(KeyTimeoutInSeconds)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("invalid %s: %q", KeyTimeoutInSeconds, v)
	}
	return time.Duration(seconds) * time.Second, nil
}

// EnvironmentVariables returns invoker.environmentVariables.NAME entries,
// NAME.N overriding NAME for this invocation.
func (iv Invocation) EnvironmentVariables() map[string]string {
	env := make(map[string]string)
	indexed := make(map[string]string)

	for _, key := range iv.props.props.Keys() {
		if !strings.HasPrefix(key, KeyEnvironmentPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, KeyEnvironmentPrefix)
		value, _ := iv.props.props.Get(key)

		if dot := strings.LastIndex(name, "."); dot > 0 {
			if n, err := strconv.Atoi(name[dot+1:]); err == nil {
				if n == iv.Index {
					indexed[name[:dot]] = value
				}
				continue
			}
		}
		env[name] = value
	}

	for name, value := range indexed {
		env[name] = value
	}
	return env
}

// SplitTokens splits goals or profiles on commas and whitespace
func SplitTokens(s string) []string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(", \t\n\r\f", r)
	})
	if tokens == nil {
		return []string{}
	}
	return tokens
}
