// Package casemap reads the file tying Go test names to TestRail case ids.
//
//	tests:
//	  TestLogin: [1201, 1202]
//	  TestLogin/mobile: [1203]
//
// With the plain product each value is a single id instead of a list.
package casemap

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
	"github.com/ethereum-optimism/infra/op-testrail/selector"
)

type file struct {
	Tests yaml.Node `yaml:"tests"`
}

// Map is the parsed case map. Entries with the wrong shape are kept as
// candidates carrying selector.ErrMalformedSelectionInput.
type Map struct {
	byName map[string]selector.Candidate
	names  []string
}

func Load(path string, product selector.Product) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case map: %w", err)
	}
	return Parse(data, product)
}

func Parse(data []byte, product selector.Product) (*Map, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse case map: %w", err)
	}
	m := &Map{byName: make(map[string]selector.Candidate)}
	if f.Tests.Kind == 0 {
		return m, nil
	}
	if f.Tests.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("case map: tests must be a mapping, line %d", f.Tests.Line)
	}
	for i := 0; i+1 < len(f.Tests.Content); i += 2 {
		key, val := f.Tests.Content[i], f.Tests.Content[i+1]
		name := key.Value
		if _, dup := m.byName[name]; dup {
			return nil, fmt.Errorf("case map: test %q listed twice, line %d", name, key.Line)
		}
		ids, err := parseIDs(val, product)
		c := selector.Candidate{Name: name, IDs: ids}
		if err != nil {
			c.IDs = nil
			c.Err = fmt.Errorf("%w: test %s line %d: %v", selector.ErrMalformedSelectionInput, name, val.Line, err)
		}
		m.byName[name] = c
		m.names = append(m.names, name)
	}
	sort.Strings(m.names)
	return m, nil
}

func parseIDs(n *yaml.Node, product selector.Product) ([]runstate.CaseID, error) {
	switch product {
	case selector.ProductPlain:
		if n.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("value should be a single case id, got %s", kindName(n.Kind))
		}
		id, err := parseID(n)
		if err != nil {
			return nil, err
		}
		return []runstate.CaseID{id}, nil
	default:
		if n.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("value should be a list of case ids, got %s", kindName(n.Kind))
		}
		ids := make([]runstate.CaseID, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("list item should be a case id, got %s", kindName(item.Kind))
			}
			id, err := parseID(item)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
}

func parseID(n *yaml.Node) (runstate.CaseID, error) {
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid case id %q", n.Value)
	}
	return runstate.CaseID(v), nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "list"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	}
	return "nothing"
}

// Lookup returns the candidate for a test name.
func (m *Map) Lookup(name string) (selector.Candidate, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// Candidates returns every entry, sorted by test name.
func (m *Map) Candidates() []selector.Candidate {
	out := make([]selector.Candidate, 0, len(m.names))
	for _, n := range m.names {
		out = append(out, m.byName[n])
	}
	return out
}

func (m *Map) Len() int {
	return len(m.names)
}
