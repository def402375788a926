package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolExtractPublication  = "extract_publication"
	ToolSearchListings      = "search_listings"
	ToolGetPublication      = "get_publication"
	ToolAttachDeliveredFile = "attach_delivered_file"
)

// extractPublicationTool returns the tool definition for extract_publication
func extractPublicationTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolExtractPublication,
		Description: "Extract the classified ads of a publication, store them and backfill their embeddings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"number": map[string]interface{}{
					"type":        "string",
					"description": "Publication number (e.g. \"1234\"). Omit to use the latest publication",
				},
				"force_extract": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-run extraction even when the publication already has listings",
					"default":     false,
				},
			},
		},
	}
}

// searchListingsTool returns the tool definition for search_listings
func searchListingsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolSearchListings,
		Description: "Search stored listings with a free-text query (semantic and keyword)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What the user is looking for, in plain language",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-50)",
					"default":     10,
					"minimum":     1,
					"maximum":     50,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum combined score (0.0-1.0). Omit for the server default, 0 keeps every hit",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"use_cache": map[string]interface{}{
					"type":    "boolean",
					"default": true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getPublicationTool returns the tool definition for get_publication
func getPublicationTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetPublication,
		Description: "Show a publication and how many listings it holds",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"number": map[string]interface{}{
					"type":        "string",
					"description": "Publication number. Omit for the latest publication",
				},
			},
		},
	}
}

// attachDeliveredFileTool returns the tool definition for attach_delivered_file
func attachDeliveredFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolAttachDeliveredFile,
		Description: "Record the delivery-channel file reference of an uploaded publication",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"number": map[string]interface{}{
					"type": "string",
				},
				"file_ref": map[string]interface{}{
					"type":        "string",
					"description": "Opaque file identifier returned by the delivery channel",
				},
			},
			Required: []string{"number", "file_ref"},
		},
	}
}
