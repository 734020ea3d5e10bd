package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQualifiedName(t *testing.T) {
	require.Equal(t, "github:create_issue", QualifiedName("github", "create_issue"))

	server, tool, ok := SplitQualifiedName("github:create_issue")
	require.True(t, ok)
	require.Equal(t, "github", server)
	require.Equal(t, "create_issue", tool)

	tests := []struct {
		name  string
		input string
	}{
		{name: "no separator", input: "create_issue"},
		{name: "empty server", input: ":create_issue"},
		{name: "empty tool", input: "github:"},
		{name: "empty string", input: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := SplitQualifiedName(tt.input)
			require.False(t, ok)
		})
	}
}

func TestSplitQualifiedNameKeepsRemainder(t *testing.T) {
	server, tool, ok := SplitQualifiedName("fs:path:read")
	require.True(t, ok)
	require.Equal(t, "fs", server)
	require.Equal(t, "path:read", tool)
}

func TestSnapshotPagination(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "c_tool"},
		{Name: "a_tool"},
		{Name: "b_tool"},
		{Name: "d_tool"},
	}
	snap := NewSnapshot(1, tools)

	first := snap.Page(0, 2)
	require.Equal(t, 4, first.Total)
	require.True(t, first.HasMore)
	require.Equal(t, "a_tool", first.Tools[0].Name)
	require.Equal(t, "b_tool", first.Tools[1].Name)

	second := snap.Page(2, 2)
	require.False(t, second.HasMore)
	require.Equal(t, "c_tool", second.Tools[0].Name)
	require.Equal(t, "d_tool", second.Tools[1].Name)

	// Same window twice yields identical results.
	again := snap.Page(0, 2)
	require.Equal(t, first, again)

	past := snap.Page(10, 2)
	require.Empty(t, past.Tools)
	require.Equal(t, 4, past.Total)
	require.False(t, past.HasMore)
}

func TestSnapshotLookup(t *testing.T) {
	snap := NewSnapshot(1, []ToolDefinition{{Name: "beta"}, {Name: "alpha"}})

	def, ok := snap.Lookup("alpha")
	require.True(t, ok)
	require.Equal(t, "alpha", def.Name)

	_, ok = snap.Lookup("gamma")
	require.False(t, ok)
}

func TestToolDefinitionMatches(t *testing.T) {
	def := ToolDefinition{
		Name:        "network_status",
		Description: "Query interface state",
		Tags:        []string{"networking", "diagnostics"},
	}

	require.True(t, def.Matches(""))
	require.True(t, def.Matches("NETWORK"))
	require.True(t, def.Matches("interface"))
	require.True(t, def.Matches("diag"))
	require.False(t, def.Matches("storage"))
}

func TestToolDefinitionClone(t *testing.T) {
	def := ToolDefinition{
		Name:        "alpha",
		InputSchema: []byte(`{"type":"object"}`),
		Tags:        []string{"one"},
	}
	clone := def.Clone()
	clone.InputSchema[2] = 'X'
	clone.Tags[0] = "two"

	require.Equal(t, []byte(`{"type":"object"}`), []byte(def.InputSchema))
	require.Equal(t, "one", def.Tags[0])
}
