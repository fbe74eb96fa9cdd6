// Package diff computes line-level differences between two prompt versions.
package diff

import (
	"regexp"
	"strings"
)

// Kind classifies a diff line.
type Kind string

const (
	Equal Kind = "EQUAL"
	Add   Kind = "ADD"
	Del   Kind = "DEL"
)

// Line is one entry of an edit script.
type Line struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// SplitLines splits text on line breaks. The empty string has no lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return lineBreak.Split(text, -1)
}

// Lines returns a minimal edit script turning a into b under the
// longest-common-subsequence metric. When both sides could be consumed, the
// line from a is deleted first.
func Lines(a, b string) []Line {
	as, bs := SplitLines(a), SplitLines(b)
	n, m := len(as), len(bs)

	// lcs[i][j] is the LCS length of as[i:] and bs[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if as[i] == bs[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	out := make([]Line, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case as[i] == bs[j]:
			out = append(out, Line{Kind: Equal, Text: as[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, Line{Kind: Del, Text: as[i]})
			i++
		default:
			out = append(out, Line{Kind: Add, Text: bs[j]})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, Line{Kind: Del, Text: as[i]})
	}
	for ; j < m; j++ {
		out = append(out, Line{Kind: Add, Text: bs[j]})
	}
	return out
}

// Stats counts lines per kind.
type Stats struct {
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
	Equal   int `json:"equal"`
}

// Summarize counts the lines of an edit script.
func Summarize(lines []Line) Stats {
	var s Stats
	for _, l := range lines {
		switch l.Kind {
		case Add:
			s.Added++
		case Del:
			s.Deleted++
		default:
			s.Equal++
		}
	}
	return s
}

// Unified renders lines with "+", "-" and " " prefixes, one per line.
func Unified(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		switch l.Kind {
		case Add:
			b.WriteString("+ ")
		case Del:
			b.WriteString("- ")
		default:
			b.WriteString("  ")
		}
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
