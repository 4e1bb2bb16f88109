package llmchat

import "strings"

const webSearchMarkerPrefix = "_TOOL_WEB_SEARCH_:"

var markerTerminators = []string{"_RESULT_:", "_TOOL_END_:"}

// scanInlineToolMarkers looks for a "_TOOL_WEB_SEARCH_: <query>" marker in
// content: some backends emit tool
// invocations inline in the assistant text instead of via the structured
// tool_calls field. When found, it returns a synthetic ToolCall equivalent
// to a real web_search{query} invocation.
func scanInlineToolMarkers(content string) (ToolCall, bool) {
	idx := strings.Index(content, webSearchMarkerPrefix)
	if idx < 0 {
		return ToolCall{}, false
	}
	rest := content[idx+len(webSearchMarkerPrefix):]

	end := len(rest)
	for _, term := range markerTerminators {
		if i := strings.Index(rest, term); i >= 0 && i < end {
			end = i
		}
	}
	query := strings.TrimSpace(rest[:end])
	if query == "" {
		return ToolCall{}, false
	}

	return ToolCall{
		Function: ToolCallFunc{
			Name:      "web_search",
			Arguments: map[string]any{"query": query},
		},
	}, true
}
