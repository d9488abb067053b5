package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/petasbytes/event-handler/internal/fsops"
)

type ListDocsInput struct {
	Path     string `json:"path,omitempty" jsonschema_description:"Optional relative directory to list (defaults to the document root)."`
	Page     int    `json:"page,omitempty" jsonschema_description:"1-based page number (default 1)."`
	PageSize int    `json:"page_size,omitempty" jsonschema_description:"Page size (default 200)."`
}

type ReadDocInput struct {
	Path   string `json:"path" jsonschema_description:"Relative document path."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Line offset (0-based) to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum lines to return from offset (default 200)."`
}

const (
	defaultListPageSize = 200
	defaultReadLimit    = 200
	maxLineRunes        = 2000
	overallRuneCap      = 12_000
	truncationSentinel  = "-- truncated; use offset/limit to fetch more --\n"
)

// DocTools returns list_docs and read_doc bound to r.
func DocTools(r *fsops.Reader) []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_docs",
			Description: "List reference documents available to the assistant (non-recursive). Directories end with '/'.",
			InputSchema: GenerateSchema[ListDocsInput](),
			Function:    listDocs(r),
		},
		{
			Name:        "read_doc",
			Description: "Read a reference document by relative path. Long documents are paginated by lines.",
			InputSchema: GenerateSchema[ReadDocInput](),
			Function:    readDoc(r),
		},
	}
}

func listDocs(r *fsops.Reader) Executor {
	return func(_ context.Context, input json.RawMessage) (any, error) {
		var in ListDocsInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		page := max(in.Page, 1)
		pageSize := in.PageSize
		if pageSize <= 0 {
			pageSize = defaultListPageSize
		}

		names, err := r.ListFiles(in.Path)
		if err != nil {
			return nil, err
		}
		start := (page - 1) * pageSize
		if start >= len(names) {
			return []string{}, nil
		}
		return names[start:min(start+pageSize, len(names))], nil
	}
}

func readDoc(r *fsops.Reader) Executor {
	return func(_ context.Context, input json.RawMessage) (any, error) {
		var in ReadDocInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		content, err := r.ReadFile(in.Path)
		if err != nil {
			return nil, err
		}
		return paginate(content, in.Offset, in.Limit), nil
	}
}

// paginate selects lines [offset, offset+limit), clamps long lines and the
// overall size, and appends a sentinel whenever anything was left out.
func paginate(content string, offset, limit int) string {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	lines := strings.Split(content, "\n")
	offset = min(max(offset, 0), len(lines))
	end := min(offset+limit, len(lines))

	truncated := end < len(lines)
	window := lines[offset:end]
	for i, line := range window {
		if r := []rune(line); len(r) > maxLineRunes {
			window[i] = string(r[:maxLineRunes])
			truncated = true
		}
	}
	out := strings.Join(window, "\n")
	if r := []rune(out); len(r) > overallRuneCap {
		out = string(r[:overallRuneCap])
		truncated = true
	}
	if truncated {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += truncationSentinel
	}
	return out
}
