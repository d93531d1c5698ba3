// Package selector evaluates the job-level run conditions declared in
// invoker.properties: build tool version, JRE version and OS family.
package selector

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/poltergeist/invoker/pkg/properties"
)

// Condition names used in skip messages
const (
	ConditionMavenVersion = "Maven version"
	ConditionJavaVersion  = "JRE version"
	ConditionOSFamily     = "OS"
)

var leadingVersion = regexp.MustCompile(`^\d+(\.\d+)*`)

// Environment describes the machine jobs run on
type Environment struct {
	MavenVersion string
	JavaVersion  string
	GOOS         string
}

// CurrentEnvironment returns an environment for this OS with the given
// tool versions.
func CurrentEnvironment(mavenVersion, javaVersion string) Environment {
	return Environment{
		MavenVersion: mavenVersion,
		JavaVersion:  javaVersion,
		GOOS:         runtime.GOOS,
	}
}

// Outcome is the result of evaluating all conditions of one job
type Outcome struct {
	// Unsatisfied lists the conditions that ruled the job out
	Unsatisfied []string
	// Unknown lists the conditions that could not be checked because the
	// corresponding version is not known; they do not rule the job out
	Unknown []string
}

// Satisfied reports whether the job may run
func (o Outcome) Satisfied() bool {
	return len(o.Unsatisfied) == 0
}

// Evaluate checks the job's conditions against env
func Evaluate(p *properties.InvokerProperties, env Environment) (Outcome, error) {
	var out Outcome

	check := func(name, requirement, actual string) error {
		if requirement == "" {
			return nil
		}
		if actual == "" {
			out.Unknown = append(out.Unknown, name)
			return nil
		}
		ok, err := MatchVersion(requirement, actual)
		if err != nil {
			return fmt.Errorf("invalid %s condition: %w", name, err)
		}
		if !ok {
			out.Unsatisfied = append(out.Unsatisfied, name)
		}
		return nil
	}

	if err := check(ConditionMavenVersion, p.MavenVersion(), env.MavenVersion); err != nil {
		return out, err
	}
	if err := check(ConditionJavaVersion, p.JavaVersion(), env.JavaVersion); err != nil {
		return out, err
	}

	if family := p.OSFamily(); family != "" && !MatchOSFamily(family, env.GOOS) {
		out.Unsatisfied = append(out.Unsatisfied, ConditionOSFamily)
	}

	return out, nil
}

// MatchVersion checks actual against a comma-separated requirement list.
// "X+" means at least X, a plain "X" matches X and every version it
// prefixes, and a leading '!' negates a token. Any matching negated token
// rules the version out; otherwise at least one positive token must match
// when positive tokens are present.
func MatchVersion(requirement, actual string) (bool, error) {
	current, err := parseVersion(actual)
	if err != nil {
		return false, err
	}

	return evaluateTokens(requirement, func(token string) (bool, error) {
		return matchVersionToken(token, current)
	})
}

func matchVersionToken(token string, current *version.Version) (bool, error) {
	if strings.HasSuffix(token, "+") {
		minimum := leadingVersion.FindString(strings.TrimSuffix(token, "+"))
		if minimum == "" {
			return false, fmt.Errorf("invalid version %q", token)
		}
		constraint, err := version.NewConstraint(">= " + minimum)
		if err != nil {
			return false, err
		}
		return constraint.Check(current), nil
	}

	prefix := leadingVersion.FindString(token)
	if prefix == "" {
		return false, fmt.Errorf("invalid version %q", token)
	}
	required, err := version.NewVersion(prefix)
	if err != nil {
		return false, err
	}

	n := strings.Count(prefix, ".") + 1
	want := required.Segments()
	have := current.Segments()
	for i := 0; i < n; i++ {
		var h int
		if i < len(have) {
			h = have[i]
		}
		if want[i] != h {
			return false, nil
		}
	}
	return true, nil
}

// MatchOSFamily checks goos against a comma-separated list of OS families
// (windows, unix, mac, ...), '!' negating a family.
func MatchOSFamily(requirement, goos string) bool {
	families := osFamilies(goos)
	ok, _ := evaluateTokens(requirement, func(token string) (bool, error) {
		return families[strings.ToLower(token)], nil
	})
	return ok
}

func osFamilies(goos string) map[string]bool {
	switch goos {
	case "windows":
		return map[string]bool{"windows": true, "dos": true}
	case "darwin", "ios":
		return map[string]bool{"mac": true, "unix": true}
	case "zos":
		return map[string]bool{"z/os": true}
	case "plan9", "js", "wasip1":
		return map[string]bool{goos: true}
	default:
		return map[string]bool{"unix": true, goos: true}
	}
}

func evaluateTokens(requirement string, match func(token string) (bool, error)) (bool, error) {
	positives, matched := 0, false

	for _, token := range strings.Split(requirement, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		negated := strings.HasPrefix(token, "!")
		ok, err := match(strings.TrimSpace(strings.TrimPrefix(token, "!")))
		if err != nil {
			return false, err
		}

		if negated {
			if ok {
				return false, nil
			}
			continue
		}
		positives++
		matched = matched || ok
	}

	return positives == 0 || matched, nil
}

// parseVersion accepts tool version strings such as "3.9.6", "1.8.0_292"
// or "21-ea" by keeping the leading numeric part.
func parseVersion(s string) (*version.Version, error) {
	v := leadingVersion.FindString(strings.TrimSpace(s))
	if v == "" {
		return nil, fmt.Errorf("invalid version %q", s)
	}
	return version.NewVersion(v)
}
