package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/cloudml-magic/internal/config"
	"github.com/MimeLyc/cloudml-magic/internal/session"
	"github.com/MimeLyc/cloudml-magic/pkg/file"
)

const (
	initFileName  = "__init__.py"
	taskFileName  = "task.py"
	setupFileName = "setup.py"
	distDirName   = "dist"
)

// Layout lists the files of a staged package.
type Layout struct {
	Root      string
	InitFile  string
	TaskFile  string
	SetupFile string
	DistDir   string
	// Archive is the sdist path setuptools produces for the configured version.
	Archive string
}

func NewLayout(root string, meta config.PackageMetadata) Layout {
	pkgDir := filepath.Join(root, session.PackageName)
	version := meta.Version
	if strings.TrimSpace(version) == "" {
		version = "0.0.0"
	}
	distDir := filepath.Join(root, distDirName)
	return Layout{
		Root:      root,
		InitFile:  filepath.Join(pkgDir, initFileName),
		TaskFile:  filepath.Join(pkgDir, taskFileName),
		SetupFile: filepath.Join(root, setupFileName),
		DistDir:   distDir,
		Archive:   filepath.Join(distDir, fmt.Sprintf("%s-%s.tar.gz", session.PackageName, version)),
	}
}

// ArchivePattern matches any sdist of the package inside DistDir.
func (l Layout) ArchivePattern() string {
	return session.PackageName + "-*.tar.gz"
}

// Prepare creates the empty package directory of a new session.
func Prepare(sess *session.Session) error {
	if err := os.MkdirAll(sess.PackageDir(), 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	return nil
}

// Write stages the accumulated source as an installable package.
func Write(sess *session.Session) (Layout, error) {
	layout := NewLayout(sess.StagingDir, sess.Settings.Metadata)
	if err := Prepare(sess); err != nil {
		return layout, err
	}

	files := []struct {
		path    string
		content string
	}{
		{layout.InitFile, ""},
		{layout.TaskFile, sess.Source()},
		{layout.SetupFile, SetupPy(sess.Settings)},
	}
	for _, f := range files {
		if err := file.WriteAtomic(f.path, []byte(f.content), 0o644); err != nil {
			return layout, fmt.Errorf("write %s: %w", filepath.Base(f.path), err)
		}
	}
	return layout, nil
}

// SetupPy renders the packaging descriptor. The package name is always "trainer".
func SetupPy(settings config.Settings) string {
	meta := settings.Metadata
	version := meta.Version
	if strings.TrimSpace(version) == "" {
		version = "0.0.0"
	}

	var b strings.Builder
	b.WriteString("from setuptools import setup\n")
	b.WriteString("\n")
	b.WriteString("if __name__ == '__main__':\n")
	b.WriteString("    setup(\n")
	fmt.Fprintf(&b, "        name=%s,\n", pyString(session.PackageName))
	fmt.Fprintf(&b, "        version=%s,\n", pyString(version))
	fmt.Fprintf(&b, "        packages=[%s],\n", pyString(session.PackageName))
	if reqs := settings.Requirements(); len(reqs) > 0 {
		fmt.Fprintf(&b, "        install_requires=%s,\n", pyList(reqs))
	}
	optional := []struct{ key, value string }{
		{"description", meta.Description},
		{"author", meta.Author},
		{"url", meta.URL},
		{"python_requires", meta.PythonRequires},
	}
	for _, o := range optional {
		if strings.TrimSpace(o.value) != "" {
			fmt.Fprintf(&b, "        %s=%s,\n", o.key, pyString(o.value))
		}
	}
	b.WriteString("    )\n")
	return b.String()
}

func pyString(s string) string {
	return strconv.Quote(s)
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = pyString(item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
