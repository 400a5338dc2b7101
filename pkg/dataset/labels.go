package dataset

import "sort"

// LabelMapping is a bijection between identities and dense labels 0..n-1,
// assigned in lexicographic order of identity.
type LabelMapping struct {
	Identities []string
	index      map[string]int
}

// NewLabelMapping builds a mapping from ids. Duplicates collapse; input
// order does not matter.
func NewLabelMapping(ids []string) *LabelMapping {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	m := &LabelMapping{index: make(map[string]int, len(sorted))}
	for _, id := range sorted {
		if _, dup := m.index[id]; dup {
			continue
		}
		m.index[id] = len(m.Identities)
		m.Identities = append(m.Identities, id)
	}
	return m
}

// Len returns the number of labels.
func (m *LabelMapping) Len() int {
	return len(m.Identities)
}

// Label returns the label of id.
func (m *LabelMapping) Label(id string) (int, bool) {
	if m.index == nil {
		m.reindex()
	}
	l, ok := m.index[id]
	return l, ok
}

// Identity returns the identity for label.
func (m *LabelMapping) Identity(label int) (string, bool) {
	if label < 0 || label >= len(m.Identities) {
		return "", false
	}
	return m.Identities[label], true
}

func (m *LabelMapping) reindex() {
	m.index = make(map[string]int, len(m.Identities))
	for i, id := range m.Identities {
		m.index[id] = i
	}
}
