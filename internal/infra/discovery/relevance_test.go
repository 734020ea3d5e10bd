package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"opmcpd/internal/domain"
)

func relevanceSystem(t *testing.T) *System {
	t.Helper()
	system := newTestSystem(t,
		&fakeSource{name: "core", origin: domain.OriginBuiltin, available: true, tools: []domain.ToolDefinition{
			{Name: "net_status", Category: "networking", Tags: []string{"wifi"}},
			{Name: "disk_query", Category: "storage"},
			{Name: "fmt_check", Category: "development"},
			{Name: "unit_list", Category: "system"},
		}},
	)
	_, err := system.Refresh(context.Background())
	require.NoError(t, err)
	return system
}

func TestRelevantScoresExplicitDomain(t *testing.T) {
	system := relevanceSystem(t)

	suggestions, err := system.Relevant(context.Background(), Signals{
		Domains: []string{"networking"},
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, "networking", suggestions[0].Category)
	require.Equal(t, 50, suggestions[0].Confidence)
	require.False(t, suggestions[0].AutoEnable)
}

func TestRelevantAutoEnableAtThreshold(t *testing.T) {
	system := relevanceSystem(t)

	// Explicit domain (50) + keyword via tag (25) crosses 70.
	suggestions, err := system.Relevant(context.Background(), Signals{
		Domains:  []string{"networking"},
		Keywords: []string{"wifi"},
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, 75, suggestions[0].Confidence)
	require.True(t, suggestions[0].AutoEnable)
}

func TestRelevantFileAndIntentSignals(t *testing.T) {
	system := relevanceSystem(t)

	suggestions, err := system.Relevant(context.Background(), Signals{
		Files:  []string{"main.go"},
		Intent: "query",
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	byCategory := map[string]Suggestion{}
	for _, sg := range suggestions {
		byCategory[sg.Category] = sg
	}
	require.Equal(t, 30, byCategory["development"].Confidence)
	require.Equal(t, 20, byCategory["storage"].Confidence)
}

func TestRelevantCapsConfidence(t *testing.T) {
	system := relevanceSystem(t)

	suggestions, err := system.Relevant(context.Background(), Signals{
		Domains:  []string{"networking", "networking", "networking"},
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, 100, suggestions[0].Confidence)
}
