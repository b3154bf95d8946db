package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index a codebase so its files can be asked about",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"concurrency": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum concurrent summarization calls (default: number of CPUs)",
					"minimum":     1,
					"maximum":     64,
				},
				"sweep_missing": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, remove index entries for files no longer on disk",
					"default":     true,
				},
				"extensions": map[string]interface{}{
					"type":        "array",
					"description": "File extensions to index (default: all known source extensions)",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"path"},
		},
	}
}

// askCodebaseTool returns the tool definition for ask_codebase
func askCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_codebase",
		Description: "Ask a question about an indexed codebase, grounded in the most relevant file summaries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question to answer",
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Conversation session to continue; omit to start a new one",
				},
			},
			Required: []string{"question"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and session counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getHistoryTool returns the tool definition for get_history
func getHistoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_history",
		Description: "Return the turn history of a conversation session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier returned by ask_codebase",
				},
			},
			Required: []string{"session_id"},
		},
	}
}
