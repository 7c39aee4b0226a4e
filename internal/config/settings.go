package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ScaleTiers lists the compute profiles accepted by the training service.
var ScaleTiers = []string{"BASIC", "STANDARD_1", "PREMIUM_1", "BASIC_GPU", "BASIC_TPU", "CUSTOM"}

var upper = cases.Upper(language.Und)

// Settings is the per-session job configuration supplied to the init command.
type Settings struct {
	ProjectID      string          `json:"project_id"`
	Bucket         string          `json:"bucket"`
	Region         string          `json:"region"`
	ScaleTier      string          `json:"scale_tier"`
	RuntimeVersion string          `json:"runtime_version"`
	Packages       []string        `json:"packages,omitempty"`
	// Args are passed to the trainer module's command line.
	Args     []string        `json:"args,omitempty"`
	Metadata PackageMetadata `json:"metadata"`
}

// PackageMetadata is extra packaging information written into setup.py.
type PackageMetadata struct {
	Version         string   `yaml:"version" json:"version,omitempty"`
	Description     string   `yaml:"description" json:"description,omitempty"`
	Author          string   `yaml:"author" json:"author,omitempty"`
	URL             string   `yaml:"url" json:"url,omitempty"`
	PythonRequires  string   `yaml:"python_requires" json:"python_requires,omitempty"`
	InstallRequires []string `yaml:"install_requires" json:"install_requires,omitempty"`
}

// Parent is the resource name jobs are created under.
func (s Settings) Parent() string {
	return "projects/" + s.ProjectID
}

// Requirements merges the dependency list with the metadata requirements,
// keeping first occurrence order.
func (s Settings) Requirements() []string {
	ret := make([]string, 0, len(s.Packages)+len(s.Metadata.InstallRequires))
	for _, list := range [][]string{s.Packages, s.Metadata.InstallRequires} {
		for _, pkg := range list {
			pkg = strings.TrimSpace(pkg)
			if pkg == "" || slices.Contains(ret, pkg) {
				continue
			}
			ret = append(ret, pkg)
		}
	}
	return ret
}

// WithDefaults fills empty optional fields and normalizes the scale tier.
func (s Settings) WithDefaults(d DefaultsConfig) Settings {
	s.ProjectID = strings.TrimSpace(s.ProjectID)
	s.Bucket = strings.TrimPrefix(strings.TrimSpace(s.Bucket), "gs://")
	s.Bucket = strings.TrimRight(s.Bucket, "/")
	if strings.TrimSpace(s.Region) == "" {
		s.Region = d.Region
	}
	if strings.TrimSpace(s.ScaleTier) == "" {
		s.ScaleTier = d.ScaleTier
	}
	s.ScaleTier = upper.String(strings.TrimSpace(s.ScaleTier))
	if strings.TrimSpace(s.RuntimeVersion) == "" {
		s.RuntimeVersion = d.RuntimeVersion
	}
	if strings.TrimSpace(s.Metadata.Version) == "" {
		s.Metadata.Version = "0.0.0"
	}
	return s
}

func (s Settings) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("projectId is required")
	}
	if s.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.TrimSpace(s.Region) == "" {
		return fmt.Errorf("region is required")
	}
	if _, err := NormalizeScaleTier(s.ScaleTier); err != nil {
		return err
	}
	return nil
}

// NormalizeScaleTier upper-cases tier and checks it against ScaleTiers.
func NormalizeScaleTier(tier string) (string, error) {
	tier = upper.String(strings.TrimSpace(tier))
	if !slices.Contains(ScaleTiers, tier) {
		return "", fmt.Errorf("unknown scale tier %q (valid: %s)", tier, strings.Join(ScaleTiers, ", "))
	}
	return tier, nil
}

// LoadPackageMetadata reads a YAML packaging metadata file.
func LoadPackageMetadata(path string) (PackageMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackageMetadata{}, err
	}
	var meta PackageMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return PackageMetadata{}, fmt.Errorf("invalid metadata file: %w", err)
	}
	return meta, nil
}

// ParseInitArgs parses the init command flags, in the notebook spelling
// (-projectId, -bucket, -region, -scaleTier, -runtimeVersion, -packages, -args, -metadata).
// The returned settings have defaults applied and are validated.
func ParseInitArgs(args []string, d DefaultsConfig, output io.Writer) (Settings, error) {
	fs := flag.NewFlagSet("ml_init", flag.ContinueOnError)
	fs.SetOutput(output)

	projectID := fs.String("projectId", "", "Cloud project id (required).")
	bucket := fs.String("bucket", "", "Storage bucket receiving the package (required).")
	region := fs.String("region", d.Region, "Region the job runs in.")
	scaleTier := fs.String("scaleTier", d.ScaleTier, "Compute profile: "+strings.Join(ScaleTiers, ", ")+".")
	runtimeVersion := fs.String("runtimeVersion", d.RuntimeVersion, "Training runtime version.")
	packages := fs.String("packages", "", "Comma separated extra dependencies for setup.py.")
	trainerArgs := fs.String("args", "", "Space separated arguments for the trainer module.")
	metadataPath := fs.String("metadata", "", "YAML file with extra packaging metadata.")

	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}
	if fs.NArg() > 0 {
		return Settings{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	settings := Settings{
		ProjectID:      *projectID,
		Bucket:         *bucket,
		Region:         *region,
		ScaleTier:      *scaleTier,
		RuntimeVersion: *runtimeVersion,
		Packages:       splitList(*packages),
		Args:           strings.Fields(*trainerArgs),
	}
	if *metadataPath != "" {
		meta, err := LoadPackageMetadata(*metadataPath)
		if err != nil {
			return Settings{}, fmt.Errorf("load metadata: %w", err)
		}
		settings.Metadata = meta
	}

	settings = settings.WithDefaults(d)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ret := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ret = append(ret, p)
		}
	}
	return ret
}
