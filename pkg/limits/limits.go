// Package limits extracts per-node iteration bounds from a Mermaid graph definition.
//
// A bound is declared with the annotation "@max_iterations: N", usually inside a node label:
//
//	review["Review draft
//	@max_iterations: 2"]
//
// The annotation binds to the nearest preceding node identifier in document order.
// Identifiers are bare words outside of labels, quotes and edge text, so words of the
// label itself never capture the bound.
package limits

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Annotation is the token that introduces an iteration bound.
const Annotation = "@max_iterations:"

// DefinitionName is the document, relative to an agent directory, holding the graph.
const DefinitionName = "agent-mermaid"

// Limits maps node IDs to their maximum number of entries. Absent nodes are unbounded.
// The zero value is an empty, usable Limits.
type Limits struct {
	bounds map[string]int
}

// Parse scans text and returns the declared bounds. It never fails: text without
// annotations yields an empty Limits. When a node is annotated twice the last one wins.
// Non-positive bounds are ignored.
func Parse(text string) Limits {
	l := Limits{bounds: make(map[string]int)}
	for _, block := range Blocks(text) {
		l.scan(stripComments(block))
	}
	return l
}

// FromMap builds Limits from an explicit mapping, dropping non-positive entries.
func FromMap(m map[string]int) Limits {
	l := Limits{bounds: make(map[string]int, len(m))}
	for k, v := range m {
		if v > 0 {
			l.bounds[k] = v
		}
	}
	return l
}

// Max returns the bound for node and whether one is declared.
func (l Limits) Max(node string) (int, bool) {
	n, ok := l.bounds[node]
	return n, ok
}

// Len returns the number of bounded nodes.
func (l Limits) Len() int { return len(l.bounds) }

// Nodes returns the bounded node IDs in sorted order.
func (l Limits) Nodes() []string {
	nodes := make([]string, 0, len(l.bounds))
	for k := range l.bounds {
		nodes = append(nodes, k)
	}
	sort.Strings(nodes)
	return nodes
}

// Map returns a copy of the bounds.
func (l Limits) Map() map[string]int {
	out := make(map[string]int, len(l.bounds))
	for k, v := range l.bounds {
		out[k] = v
	}
	return out
}

// MarshalJSON renders Limits as a plain object.
func (l Limits) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Map())
}

// Blocks returns the bodies of ```mermaid fences, or the whole text when there are none.
func Blocks(text string) []string {
	const open = "```mermaid"
	if !strings.Contains(text, open) {
		return []string{text}
	}
	var blocks []string
	rest := text
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			break
		}
		rest = rest[i+len(open):]
		end := strings.Index(rest, "```")
		if end < 0 {
			blocks = append(blocks, rest)
			break
		}
		blocks = append(blocks, rest[:end])
		rest = rest[end+3:]
	}
	return blocks
}

// stripComments drops Mermaid "%%" comment lines.
func stripComments(src string) string {
	lines := strings.Split(src, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "%%") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (l Limits) scan(src string) {
	var (
		last   string // nearest preceding identifier
		depth  int    // bracket nesting: [ ( { and the flag opener >
		quoted bool
		edge   bool // inside |edge text|
	)
	for i := 0; i < len(src); {
		if strings.HasPrefix(src[i:], Annotation) {
			j := i + len(Annotation)
			for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
				j++
			}
			k := j
			for k < len(src) && isDigit(src[k]) {
				k++
			}
			if k > j && last != "" {
				if n, err := strconv.Atoi(src[j:k]); err == nil && n > 0 {
					l.bounds[last] = n
				}
			}
			i = k
			continue
		}

		c := src[i]
		switch {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '|' && depth == 0:
			edge = !edge
		case c == '[' || c == '(' || c == '{':
			depth++
		case c == '>' && depth == 0 && !edge && i > 0 && isWord(src[i-1]):
			// Flag shape id>label]. Arrow heads always follow - = or .
			depth++
		case c == ']' || c == ')' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == '\n':
			edge = false
		case isWord(c):
			j := i
			for j < len(src) && isWord(src[j]) {
				j++
			}
			if depth == 0 && !edge {
				last = src[i:j]
			}
			i = j
			continue
		}
		i++
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWord(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
