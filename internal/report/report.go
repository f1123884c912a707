// Package report persists one markdown run report per monitored PR, with
// YAML frontmatter so past runs can be listed and filtered without parsing
// prose.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"cimonitor/internal/monitor"
)

// Meta is the frontmatter of one run report.
type Meta struct {
	PRNumber        int    `yaml:"pr_number"`
	SessionID       string `yaml:"session_id"`
	FinishedAt      string `yaml:"finished_at"`
	Success         bool   `yaml:"success"`
	RebaseCount     int    `yaml:"rebase_count"`
	CIPassed        bool   `yaml:"ci_passed"`
	ReviewCompleted bool   `yaml:"review_completed"`
}

// Report is a parsed run report.
type Report struct {
	Meta Meta
	Body string
}

// Store reads and writes run reports under a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating reports directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the reports directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(prNumber int, sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-pr%d-%s.md", prNumber, sessionID))
}

// Write renders the result of one finished run into a markdown report.
func (s *Store) Write(prNumber int, sessionID string, res monitor.MonitorResult) error {
	meta := Meta{
		PRNumber:        prNumber,
		SessionID:       sessionID,
		FinishedAt:      time.Now().UTC().Format(time.RFC3339),
		Success:         res.Success,
		RebaseCount:     res.RebaseCount,
		CIPassed:        res.CIPassed,
		ReviewCompleted: res.ReviewCompleted,
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# PR #%d monitoring run\n\n", prNumber)
	fmt.Fprintf(&body, "Outcome: %s\n\n", res.Message)
	fmt.Fprintf(&body, "- Rebases performed: %d\n", res.RebaseCount)
	fmt.Fprintf(&body, "- CI passed: %v\n", res.CIPassed)
	fmt.Fprintf(&body, "- Reviews completed: %v\n", res.ReviewCompleted)
	if res.ReviewComments > 0 {
		fmt.Fprintf(&body, "- Review comments seen: %d\n", res.ReviewComments)
	}
	if res.UnresolvedThreads > 0 {
		fmt.Fprintf(&body, "- Unresolved review threads at exit: %d\n", res.UnresolvedThreads)
	}
	if res.FinalState != nil {
		fmt.Fprintf(&body, "- Final merge state: %s\n", res.FinalState.MergeState)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling report frontmatter: %w", err)
	}
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(body.String())

	return atomicWriteFile(s.path(prNumber, sessionID), buf.Bytes(), 0644)
}

// Read parses one report file.
func (s *Store) Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", path, err)
	}
	var meta Meta
	body, err := frontmatter.Parse(strings.NewReader(string(data)), &meta)
	if err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &Report{Meta: meta, Body: string(body)}, nil
}

// List returns all reports, newest first. Unparseable files are skipped.
func (s *Store) List() ([]Report, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	var reports []Report
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		r, err := s.Read(filepath.Join(s.dir, e.Name()))
		if err != nil || r.Meta.PRNumber == 0 {
			// Not a run report.
			continue
		}
		reports = append(reports, *r)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Meta.FinishedAt > reports[j].Meta.FinishedAt
	})
	return reports, nil
}

// atomicWriteFile writes data to a temp file then renames it into place,
// preventing partial writes on crash or disk-full.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
