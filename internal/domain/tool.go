package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// ToolOrigin identifies which discovery source produced a tool.
type ToolOrigin string

const (
	OriginBuiltin  ToolOrigin = "builtin"
	OriginDbus     ToolOrigin = "dbus"
	OriginPlugin   ToolOrigin = "plugin"
	OriginAgent    ToolOrigin = "agent"
	OriginExternal ToolOrigin = "external"
)

// QualifiedNameSeparator joins a server name and a remote tool name.
const QualifiedNameSeparator = ":"

// ToolDefinition describes one callable tool. Definitions are immutable
// once published in a Snapshot; mutation requires a new snapshot version.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Origin      ToolOrigin      `json:"origin,omitempty"`
	Category    string          `json:"category,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// Clone returns a deep copy so callers can hand definitions across
// goroutines without sharing backing arrays.
func (d ToolDefinition) Clone() ToolDefinition {
	out := d
	if d.InputSchema != nil {
		out.InputSchema = append(json.RawMessage(nil), d.InputSchema...)
	}
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}

// Matches reports whether the definition matches a case-insensitive
// keyword query against name, description, and tags.
func (d ToolDefinition) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(d.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(d.Description), q) {
		return true
	}
	for _, tag := range d.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// QualifiedName builds the namespaced form `server:tool`.
func QualifiedName(server, tool string) string {
	return server + QualifiedNameSeparator + tool
}

// SplitQualifiedName splits `server:tool` into its parts. ok is false
// when the name carries no separator or an empty half.
func SplitQualifiedName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, QualifiedNameSeparator)
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// Snapshot is an immutable, versioned view of the merged catalog.
// Tools are sorted by name so pagination is stable across reads.
type Snapshot struct {
	Version uint64
	Tools   []ToolDefinition
}

// NewSnapshot sorts the given tools by name and wraps them.
func NewSnapshot(version uint64, tools []ToolDefinition) *Snapshot {
	sorted := make([]ToolDefinition, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Snapshot{Version: version, Tools: sorted}
}

// Lookup returns the definition with the given name.
func (s *Snapshot) Lookup(name string) (ToolDefinition, bool) {
	idx := sort.Search(len(s.Tools), func(i int) bool { return s.Tools[i].Name >= name })
	if idx < len(s.Tools) && s.Tools[idx].Name == name {
		return s.Tools[idx], true
	}
	return ToolDefinition{}, false
}

// Page is one stable pagination window over a snapshot.
type Page struct {
	Tools   []ToolDefinition `json:"tools"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
	HasMore bool             `json:"has_more"`
}

// Page slices the snapshot. Offsets beyond the end return an empty
// window with the correct total rather than an error.
func (s *Snapshot) Page(offset, limit int) Page {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = len(s.Tools)
	}
	total := len(s.Tools)
	if offset >= total {
		return Page{Tools: []ToolDefinition{}, Total: total, Offset: offset, Limit: limit}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	window := make([]ToolDefinition, end-offset)
	copy(window, s.Tools[offset:end])
	return Page{
		Tools:   window,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}
}

// FilterCategory returns the subset of tools in the given category,
// preserving name order. Empty category returns everything.
func (s *Snapshot) FilterCategory(category string) []ToolDefinition {
	if category == "" {
		out := make([]ToolDefinition, len(s.Tools))
		copy(out, s.Tools)
		return out
	}
	var out []ToolDefinition
	for _, tool := range s.Tools {
		if tool.Category == category {
			out = append(out, tool)
		}
	}
	return out
}
