package ui

import (
	"fmt"
	"io"
)

type consoleSection struct {
	name  string
	lines []string
}

// sectionWriter redraws a block of sections in place, rewriting only from
// the first section that changed.
type sectionWriter struct {
	out        io.Writer
	sections   []consoleSection
	totalLines int
}

func (w *sectionWriter) apply(newSections []consoleSection) {
	newTotal := countLines(newSections)
	if len(w.sections) == 0 {
		w.write(newSections)
		w.sections = cloneSections(newSections)
		w.totalLines = newTotal
		return
	}
	idx := diffIndex(w.sections, newSections)
	if idx == -1 && newTotal == w.totalLines {
		return
	}
	if idx == -1 {
		idx = len(newSections)
	}
	startLine := countLines(w.sections[:idx])
	linesBelow := w.totalLines - startLine
	if linesBelow > 0 {
		fmt.Fprintf(w.out, "\x1b[%dF", linesBelow)
	}
	fmt.Fprint(w.out, "\x1b[J")
	w.write(newSections[idx:])
	w.sections = cloneSections(newSections)
	w.totalLines = newTotal
}

// release forgets the drawn block so the next apply starts below it.
func (w *sectionWriter) release() {
	w.sections = nil
	w.totalLines = 0
}

func (w *sectionWriter) write(sections []consoleSection) {
	for _, section := range sections {
		for _, line := range section.lines {
			fmt.Fprintf(w.out, "%s\x1b[K\n", line)
		}
	}
}

func cloneSections(sections []consoleSection) []consoleSection {
	if len(sections) == 0 {
		return nil
	}
	out := make([]consoleSection, len(sections))
	for i, sec := range sections {
		lines := make([]string, len(sec.lines))
		copy(lines, sec.lines)
		out[i] = consoleSection{name: sec.name, lines: lines}
	}
	return out
}

func countLines(sections []consoleSection) int {
	total := 0
	for _, sec := range sections {
		total += len(sec.lines)
	}
	return total
}

func diffIndex(oldSections, newSections []consoleSection) int {
	max := len(oldSections)
	if len(newSections) < max {
		max = len(newSections)
	}
	for i := 0; i < max; i++ {
		if !equalLines(oldSections[i].lines, newSections[i].lines) {
			return i
		}
	}
	if len(oldSections) != len(newSections) {
		return max
	}
	return -1
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
