package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = DefaultsConfig{Region: "us-central1", ScaleTier: "BASIC", RuntimeVersion: "1.15"}

func TestParseInitArgs_RequiresProjectAndBucket(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "nothing", args: nil, wantErr: "projectId is required"},
		{name: "no bucket", args: []string{"-projectId", "p"}, wantErr: "bucket is required"},
		{name: "no project", args: []string{"-bucket", "b"}, wantErr: "projectId is required"},
		{name: "blank project", args: []string{"-projectId", "  ", "-bucket", "b"}, wantErr: "projectId is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInitArgs(tt.args, testDefaults, io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseInitArgs_Defaults(t *testing.T) {
	s, err := ParseInitArgs([]string{"-projectId", "my-proj", "-bucket", "gs://my-bucket/"}, testDefaults, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "my-proj", s.ProjectID)
	assert.Equal(t, "my-bucket", s.Bucket)
	assert.Equal(t, "us-central1", s.Region)
	assert.Equal(t, "BASIC", s.ScaleTier)
	assert.Equal(t, "1.15", s.RuntimeVersion)
	assert.Equal(t, "0.0.0", s.Metadata.Version)
	assert.Equal(t, "projects/my-proj", s.Parent())
}

func TestParseInitArgs_AllFlags(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.yaml")
	require.NoError(t, os.WriteFile(metaPath, []byte(`
version: 1.2.0
description: demo trainer
install_requires:
  - numpy
  - pandas
`), 0o600))

	s, err := ParseInitArgs([]string{
		"-projectId", "p", "-bucket", "b",
		"-region", "europe-west1",
		"-scaleTier", "basic_gpu",
		"--runtimeVersion", "2.1",
		"-packages", "keras, numpy",
		"-args", "--epochs 3  --batch-size=64",
		"-metadata", metaPath,
	}, testDefaults, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "europe-west1", s.Region)
	assert.Equal(t, "BASIC_GPU", s.ScaleTier)
	assert.Equal(t, "2.1", s.RuntimeVersion)
	assert.Equal(t, "1.2.0", s.Metadata.Version)
	assert.Equal(t, "demo trainer", s.Metadata.Description)
	assert.Equal(t, []string{"keras", "numpy", "pandas"}, s.Requirements())
	assert.Equal(t, []string{"--epochs", "3", "--batch-size=64"}, s.Args)
}

func TestParseInitArgs_Rejects(t *testing.T) {
	_, err := ParseInitArgs([]string{"-projectId", "p", "-bucket", "b", "-scaleTier", "mega"}, testDefaults, io.Discard)
	assert.Error(t, err)

	_, err = ParseInitArgs([]string{"-projectId", "p", "-bucket", "b", "extra"}, testDefaults, io.Discard)
	assert.Error(t, err)

	_, err = ParseInitArgs([]string{"-projectId", "p", "-bucket", "b", "-metadata", "/nonexistent/meta.yaml"}, testDefaults, io.Discard)
	assert.Error(t, err)
}

func TestNormalizeScaleTier(t *testing.T) {
	got, err := NormalizeScaleTier(" premium_1 ")
	require.NoError(t, err)
	assert.Equal(t, "PREMIUM_1", got)

	_, err = NormalizeScaleTier("")
	assert.Error(t, err)
}
