package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mendoc/zoomchat/internal/extraction"
	"github.com/mendoc/zoomchat/internal/searcher"
	"github.com/mendoc/zoomchat/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodePublicationNotFound = -32001 // No publication with that number
	ErrorCodeRunInProgress       = -32002 // Another extraction is already running
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
)

// handleExtractPublication handles the extract_publication tool invocation
func (s *Server) handleExtractPublication(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	number := strings.TrimSpace(getStringDefault(args, "number", ""))
	opts := extraction.Options{ForceExtract: getBoolDefault(args, "force_extract", false)}

	var (
		stats *types.ExtractionRunStats
		err   error
	)
	if number == "" {
		stats, err = s.extractor.ExtractLatest(ctx, opts)
	} else {
		stats, err = s.extractor.ExtractPublication(ctx, number, opts)
	}
	if err != nil {
		return nil, s.toolError("extraction failed", err)
	}

	response := map[string]interface{}{
		"run_id":      stats.RunID,
		"publication": stats.Publication,
		"skipped":     stats.Skipped,
		"extraction": map[string]interface{}{
			"total_pages":    stats.Extraction.TotalPages,
			"pages_success":  stats.Extraction.PagesSuccess,
			"pages_errors":   stats.Extraction.PagesErrors,
			"total_listings": stats.Extraction.TotalListings,
		},
		"listings":    stats.Listings,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if len(stats.Extraction.Errors) > 0 {
		response["errors"] = stats.Extraction.Errors
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchListings handles the search_listings tool invocation
func (s *Server) handleSearchListings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	var minScore *float64
	if args["min_score"] != nil {
		v := getFloatDefault(args, "min_score", 0)
		if v < 0 || v > 1 {
			return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]interface{}{
				"param": "min_score",
				"value": v,
			})
		}
		minScore = &v
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		MinScore: minScore,
		UseCache: getBoolDefault(args, "use_cache", true),
	})
	if err != nil {
		return nil, s.toolError("search failed", err)
	}

	response := map[string]interface{}{
		"query":         resp.Query,
		"results":       resp.Results,
		"total_results": resp.TotalResults,
		"candidates":    resp.Candidates,
		"cache_hit":     resp.CacheHit,
		"duration_ms":   resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetPublication handles the get_publication tool invocation
func (s *Server) handleGetPublication(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	var (
		pub *types.Publication
		err error
	)
	if number := strings.TrimSpace(getStringDefault(args, "number", "")); number != "" {
		pub, err = s.publications.GetPublicationByNumber(ctx, number)
	} else {
		pub, err = s.publications.GetLatestPublication(ctx)
	}
	if err != nil {
		return nil, s.toolError("failed to get publication", err)
	}

	count, err := s.publications.CountListings(ctx, pub.ID)
	if err != nil {
		return nil, s.toolError("failed to count listings", err)
	}

	response := map[string]interface{}{
		"number":        pub.Number,
		"period":        pub.Period,
		"pdf_url":       pub.PDFURL,
		"listings":      count,
		"delivered":     pub.DeliveredFileRef != nil,
		"registered_at": pub.CreatedAt.Format(time.RFC3339),
	}
	if pub.PublishedAt != nil {
		response["published_at"] = pub.PublishedAt.Format(time.RFC3339)
	}
	if pub.DeliveredFileRef != nil {
		response["file_ref"] = *pub.DeliveredFileRef
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAttachDeliveredFile handles the attach_delivered_file tool invocation
func (s *Server) handleAttachDeliveredFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	number := strings.TrimSpace(getStringDefault(args, "number", ""))
	fileRef := strings.TrimSpace(getStringDefault(args, "file_ref", ""))
	for _, p := range [][2]string{{"number", number}, {"file_ref", fileRef}} {
		if p[1] == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, p[0]+" parameter is required", map[string]interface{}{
				"param":  p[0],
				"reason": "missing or empty",
			})
		}
	}

	if err := s.publications.AttachDeliveredFile(ctx, number, fileRef); err != nil {
		return nil, s.toolError("failed to attach file", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"number":   number,
		"file_ref": fileRef,
		"attached": true,
	})), nil
}

// Helper functions

// toolError maps domain errors onto MCP error codes
func (s *Server) toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrValidation):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodePublicationNotFound, message, data)
	case errors.Is(err, extraction.ErrRunInProgress):
		return newMCPError(ErrorCodeRunInProgress, message, data)
	default:
		s.logger.Error(message, "error", err)
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call arguments, empty when absent or malformed
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
