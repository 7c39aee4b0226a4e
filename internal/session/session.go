package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/cloudml-magic/internal/config"
)

const (
	// PackageName is the fixed name of the generated python package.
	PackageName = "trainer"
	// ModuleName is the entry point module run by the training service.
	ModuleName = PackageName + ".task"

	jobIDPrefix = "mlmagic__"
)

// NewJobID derives a job identifier from the session start time.
func NewJobID(t time.Time) string {
	return fmt.Sprintf("%s%d", jobIDPrefix, t.Unix())
}

// New creates a session whose staging directory is keyed by the job id.
func New(settings config.Settings, stagingRoot string, now time.Time) *Session {
	jobID := NewJobID(now)
	return &Session{
		ID:         uuid.NewString(),
		JobID:      jobID,
		Settings:   settings,
		StagingDir: filepath.Join(stagingRoot, jobID),
		Fragments:  make([]Fragment, 0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Append adds code at the end of the sequence and returns the stored fragment.
func (s *Session) Append(code string, kind Kind) Fragment {
	now := time.Now()
	f := Fragment{
		Seq:       len(s.Fragments) + 1,
		Kind:      kind,
		Code:      code,
		CreatedAt: now,
	}
	s.Fragments = append(s.Fragments, f)
	s.UpdatedAt = now
	return f
}

func (s *Session) Empty() bool {
	return len(s.Fragments) == 0
}

// Source concatenates every fragment in order, each followed by a newline.
func (s *Session) Source() string {
	var b strings.Builder
	for _, f := range s.Fragments {
		b.WriteString(f.Code)
		b.WriteString("\n")
	}
	return b.String()
}

// PackageDir is the directory holding the generated python package.
func (s *Session) PackageDir() string {
	return filepath.Join(s.StagingDir, PackageName)
}

// PackageURI is where the source archive is uploaded.
func (s *Session) PackageURI() string {
	return fmt.Sprintf("gs://%s/%s.tar.gz", s.Settings.Bucket, s.JobID)
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	tmp := *s
	tmp.Fragments = append([]Fragment(nil), s.Fragments...)
	tmp.Settings.Packages = append([]string(nil), s.Settings.Packages...)
	tmp.Settings.Args = append([]string(nil), s.Settings.Args...)
	tmp.Settings.Metadata.InstallRequires = append([]string(nil), s.Settings.Metadata.InstallRequires...)
	return &tmp
}
