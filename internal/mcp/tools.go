package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type findInput struct {
	Query          string `json:"query" jsonschema:"What to look for"`
	CollectionName string `json:"collection_name" jsonschema:"Collection to search in"`
}

type findFixedInput struct {
	Query string `json:"query" jsonschema:"What to look for"`
}

type findOutput struct {
	Query      string   `json:"query" jsonschema:"Search query used"`
	Collection string   `json:"collection" jsonschema:"Collection searched"`
	Entries    []string `json:"entries" jsonschema:"Matching entries, best first"`
}

type storeInput struct {
	Information    string         `json:"information" jsonschema:"Passage to store"`
	CollectionName string         `json:"collection_name" jsonschema:"Collection to store the passage in"`
	Metadata       map[string]any `json:"metadata,omitempty" jsonschema:"JSON metadata stored with the passage"`
}

type storeFixedInput struct {
	Information string         `json:"information" jsonschema:"Passage to store"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"JSON metadata stored with the passage"`
}

type storeOutput struct {
	Collection string `json:"collection" jsonschema:"Collection written"`
	ID         uint64 `json:"id" jsonschema:"Point id"`
}

// registerTools adds qdrant-find, and qdrant-store unless read-only. With a fixed collection
// the tools take no collection_name argument.
func (s *Server) registerTools() {
	findTool := &mcp.Tool{Name: ToolFind, Description: s.cfg.FindDescription}
	storeTool := &mcp.Tool{Name: ToolStore, Description: s.cfg.StoreDescription}

	if s.cfg.Collection != "" {
		mcp.AddTool(s.mcp, findTool, func(ctx context.Context, _ *mcp.CallToolRequest, args findFixedInput) (*mcp.CallToolResult, findOutput, error) {
			return s.handleFind(ctx, args.Query, "")
		})
		if !s.cfg.ReadOnly {
			mcp.AddTool(s.mcp, storeTool, func(ctx context.Context, _ *mcp.CallToolRequest, args storeFixedInput) (*mcp.CallToolResult, storeOutput, error) {
				return s.handleStore(ctx, args.Information, "", args.Metadata)
			})
		}
		return
	}

	mcp.AddTool(s.mcp, findTool, func(ctx context.Context, _ *mcp.CallToolRequest, args findInput) (*mcp.CallToolResult, findOutput, error) {
		return s.handleFind(ctx, args.Query, args.CollectionName)
	})
	if !s.cfg.ReadOnly {
		mcp.AddTool(s.mcp, storeTool, func(ctx context.Context, _ *mcp.CallToolRequest, args storeInput) (*mcp.CallToolResult, storeOutput, error) {
			return s.handleStore(ctx, args.Information, args.CollectionName, args.Metadata)
		})
	}
}

func (s *Server) handleFind(ctx context.Context, query, collection string) (*mcp.CallToolResult, findOutput, error) {
	entries, err := s.Find(ctx, query, collection)
	if err != nil {
		return nil, findOutput{}, err
	}
	if collection == "" {
		collection = s.cfg.Collection
	}
	out := findOutput{Query: query, Collection: collection, Entries: entries}
	if out.Entries == nil {
		out.Entries = []string{}
	}

	var content []mcp.Content
	if len(entries) == 0 {
		content = append(content, &mcp.TextContent{Text: fmt.Sprintf("No information found for the query '%s'", query)})
	} else {
		content = append(content, &mcp.TextContent{Text: fmt.Sprintf("Results for the query '%s'", query)})
		for _, e := range entries {
			content = append(content, &mcp.TextContent{Text: e})
		}
	}
	return &mcp.CallToolResult{Content: content}, out, nil
}

func (s *Server) handleStore(ctx context.Context, information, collection string, metadata map[string]any) (*mcp.CallToolResult, storeOutput, error) {
	id, err := s.Store(ctx, information, collection, metadata)
	if err != nil {
		return nil, storeOutput{}, err
	}
	if collection == "" {
		collection = s.cfg.Collection
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Remembered: %s in collection %s", information, collection)}},
	}, storeOutput{Collection: collection, ID: id}, nil
}
