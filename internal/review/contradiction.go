package review

import "sort"

// Contradiction flags two comments on the same file close enough in line
// distance that they may be giving conflicting guidance.
type Contradiction struct {
	Path      string
	LineA     int
	LineB     int
	AuthorA   string
	AuthorB   string
	Distance  int
	SameBatch bool
}

// DetectContradictions flags same-file comment pairs within the proximity
// threshold. Distance is abs(lineA-lineB) with a strict less-than boundary:
// a pair exactly at the threshold is not flagged.
//
// Within the new batch, comments are ordered by line per file and only
// adjacent close pairs are reported, each exactly once. Each new comment is
// additionally checked against the prior batch (SameBatch=false).
func DetectContradictions(newBatch, prior []Comment, threshold int) []Contradiction {
	var out []Contradiction

	// Same-batch: adjacent pairs in line order per file.
	byPath := make(map[string][]Comment)
	for _, c := range newBatch {
		if c.Path == "" {
			continue
		}
		byPath[c.Path] = append(byPath[c.Path], c)
	}
	var paths []string
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		comments := byPath[p]
		sort.SliceStable(comments, func(i, j int) bool {
			return comments[i].Line < comments[j].Line
		})
		for i := 0; i+1 < len(comments); i++ {
			a, b := comments[i], comments[i+1]
			d := b.Line - a.Line
			if d < threshold {
				out = append(out, Contradiction{
					Path:      p,
					LineA:     a.Line,
					LineB:     b.Line,
					AuthorA:   a.Author,
					AuthorB:   b.Author,
					Distance:  d,
					SameBatch: true,
				})
			}
		}
	}

	// Cross-batch: every new comment against every prior comment.
	for _, n := range newBatch {
		if n.Path == "" {
			continue
		}
		for _, p := range prior {
			if p.Path != n.Path {
				continue
			}
			d := n.Line - p.Line
			if d < 0 {
				d = -d
			}
			if d < threshold {
				out = append(out, Contradiction{
					Path:      n.Path,
					LineA:     p.Line,
					LineB:     n.Line,
					AuthorA:   p.Author,
					AuthorB:   n.Author,
					Distance:  d,
					SameBatch: false,
				})
			}
		}
	}

	return out
}
