package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"opmcpd/internal/domain"
)

//go:embed docs/*.md
var docsFS embed.FS

const (
	docsURIPrefix = "opmcpd://docs/"
	docsMIMEType  = "text/markdown"
)

type resourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType"`
}

var docDescriptions = map[string]string{
	"overview.md":     "What the engine does and how tools are named.",
	"compact-mode.md": "How to browse and call the catalog through the meta-tools.",
	"agents.md":       "The agent roster, priorities, and session lifecycle.",
}

func (s *Server) resourcesList() (any, error) {
	entries, err := docsFS.ReadDir("docs")
	if err != nil {
		return nil, fmt.Errorf("read embedded docs: %w", err)
	}
	resources := make([]resourceDescriptor, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		resources = append(resources, resourceDescriptor{
			URI:         docsURIPrefix + name,
			Name:        strings.TrimSuffix(name, ".md"),
			Description: docDescriptions[name],
			MIMEType:    docsMIMEType,
		})
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return map[string]any{"resources": resources}, nil
}

func (s *Server) resourcesRead(rawParams json.RawMessage) (any, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidParams, err)
		}
	}
	if params.URI == "" {
		return nil, fmt.Errorf("%w: uri is required", domain.ErrInvalidParams)
	}
	name, ok := strings.CutPrefix(params.URI, docsURIPrefix)
	if !ok || strings.Contains(name, "/") {
		return nil, fmt.Errorf("read %s: %w", params.URI, domain.ErrResourceNotFound)
	}
	text, err := docsFS.ReadFile("docs/" + name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", params.URI, domain.ErrResourceNotFound)
	}
	return map[string]any{
		"contents": []map[string]any{{
			"uri":      params.URI,
			"mimeType": docsMIMEType,
			"text":     string(text),
		}},
	}, nil
}
