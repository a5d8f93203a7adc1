package executor

import (
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"text/template"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Profile describes how to run one scan tool.
type Profile struct {
	// Name identifies the tool and names its per-target directory.
	Name string `mapstructure:"name" yaml:"name"`

	// Binary is the executable, resolved through PATH.
	Binary string `mapstructure:"command" yaml:"command"`

	// Args are text/template strings over ArgData.
	Args []string `mapstructure:"args" yaml:"args"`

	// Artifact is the output file name inside the tool directory.
	Artifact string `mapstructure:"artifact" yaml:"artifact"`

	// StdoutArtifact writes captured stdout to the artifact when the tool
	// itself does not.
	StdoutArtifact bool `mapstructure:"stdout_artifact" yaml:"stdout_artifact"`
}

// ArgData is the template data available to profile arguments.
type ArgData struct {
	Target   string
	Artifact string
	Dir      string
}

// Built-in profiles for the scan tools the orchestrator knows.
var builtins = map[string]Profile{
	"testssl": {
		Name:     "testssl",
		Binary:   "testssl.sh",
		Args:     []string{"--quiet", "--color", "0", "--warnings", "batch", "--jsonfile", "{{.Artifact}}", "{{.Target}}"},
		Artifact: "testssl.json",
	},
	"httpx": {
		Name:     "httpx",
		Binary:   "httpx",
		Args:     []string{"-u", "{{.Target}}", "-silent", "-json", "-title", "-tech-detect", "-status-code", "-o", "{{.Artifact}}"},
		Artifact: "httpx.json",
	},
	"nmap": {
		Name:     "nmap",
		Binary:   "nmap",
		Args:     []string{"-Pn", "-sV", "--top-ports", "1000", "-oX", "{{.Artifact}}", "{{.Target}}"},
		Artifact: "nmap.xml",
	},
	"checkdmarc": {
		Name:           "checkdmarc",
		Binary:         "checkdmarc",
		Args:           []string{"{{.Target}}"},
		Artifact:       "checkdmarc.json",
		StdoutArtifact: true,
	},
}

// Lookup returns a built-in profile by name.
func Lookup(name string) (Profile, error) {
	p, ok := builtins[strings.ToLower(name)]
	if !ok {
		return Profile{}, &types.ConfigurationError{
			Field:  "tool.name",
			Reason: fmt.Sprintf("unknown tool %q (available: %s)", name, strings.Join(Builtins(), ", ")),
		}
	}
	p.Args = append([]string(nil), p.Args...)
	return p, nil
}

// Builtins returns the sorted names of the built-in profiles.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Override returns p with any non-empty field of o applied.
func (p Profile) Override(o Profile) Profile {
	if o.Binary != "" {
		p.Binary = o.Binary
	}
	if len(o.Args) > 0 {
		p.Args = append([]string(nil), o.Args...)
	}
	if o.Artifact != "" {
		p.Artifact = o.Artifact
	}
	if o.StdoutArtifact {
		p.StdoutArtifact = true
	}
	return p
}

// Validate checks the profile can be rendered.
func (p Profile) Validate() error {
	if p.Name == "" {
		return &types.ConfigurationError{Field: "tool.name", Reason: "must not be empty"}
	}
	if p.Binary == "" {
		return &types.ConfigurationError{Field: "tool.command", Reason: "must not be empty"}
	}
	if p.Artifact == "" {
		return &types.ConfigurationError{Field: "tool.artifact", Reason: "must not be empty"}
	}
	for _, arg := range p.Args {
		if _, err := template.New("arg").Option("missingkey=error").Parse(arg); err != nil {
			return &types.ConfigurationError{Field: "tool.args", Reason: err.Error()}
		}
	}
	return nil
}

// Render expands the argument templates.
func (p Profile) Render(data ArgData) ([]string, error) {
	args := make([]string, 0, len(p.Args))
	for i, arg := range p.Args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse arg %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render arg %d: %w", i, err)
		}
		args = append(args, buf.String())
	}
	return args, nil
}

// Preflight resolves the profile binary in PATH. A missing tool is a
// configuration error so the run fails before any dispatch.
func (p Profile) Preflight() (string, error) {
	path, err := exec.LookPath(p.Binary)
	if err != nil {
		return "", &types.ConfigurationError{
			Field:  "tool.command",
			Reason: fmt.Sprintf("%s not found in PATH: %v", p.Binary, err),
		}
	}
	return path, nil
}
