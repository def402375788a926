// Package mcp implements the Model Context Protocol (MCP) server for zoomchat.
//
// The server exposes four tools to MCP clients:
//   - extract_publication: Run the extraction pipeline for a publication
//   - search_listings: Search stored listings with a free-text query
//   - get_publication: Show a publication and its listing count
//   - attach_delivered_file: Record the delivery-channel file of a publication
//
// MCP is JSON-RPC 2.0 over stdio. Start it with:
//
//	zoomchat serve
//
// # Tool: extract_publication
//
//	Request:
//	{
//	  "name": "extract_publication",
//	  "arguments": {"number": "1234", "force_extract": false}
//	}
//
//	Response:
//	{
//	  "run_id": "0b6e...",
//	  "publication": {"number": "1234", "period": "du 10 au 16 mars", "pdf_url": "..."},
//	  "skipped": false,
//	  "extraction": {"total_pages": 5, "pages_success": 5, "pages_errors": 0, "total_listings": 83},
//	  "listings": {"inserted": 80, "duplicates": 2, "without_reference": 1, ...},
//	  "duration_ms": 41250
//	}
//
// Without "number" the latest registered publication is used. A second call
// while a run is in progress fails with -32002.
//
// # Tool: search_listings
//
//	Request:
//	{
//	  "name": "search_listings",
//	  "arguments": {"query": "villa à louer Akanda", "limit": 5}
//	}
//
// Each result carries its scores and a pre-rendered "message" block ready to
// be sent to a chat.
//
// # Error Codes
//
//	-32602: Invalid parameters
//	-32603: Internal error
//	-32001: Publication not found
//	-32002: Extraction already running
//	-32004: Empty query
package mcp
