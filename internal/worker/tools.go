package worker

import (
	"encoding/json"

	turtle "github.com/sea-turtle/sea-turtle"
)

var shellTool = turtle.ToolDefinition{
	Name:        "execute_shell",
	Description: "Execute a shell command on the local system. Returns stdout, stderr, and exit code.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to execute."}
		},
		"required": ["command"]
	}`),
}

var memoryReadTool = turtle.ToolDefinition{
	Name:        "read_memory",
	Description: "Read the agent's persistent memory file.",
	Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
}

var memoryWriteTool = turtle.ToolDefinition{
	Name:        "write_memory",
	Description: "Write or append to the agent's persistent memory file.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Content to write to memory."},
			"mode": {"type": "string", "enum": ["overwrite", "append"], "description": "Write mode: 'overwrite' replaces all content, 'append' adds to the end."}
		},
		"required": ["content"]
	}`),
}

var taskReadTool = turtle.ToolDefinition{
	Name:        "read_tasks",
	Description: "Read the agent's task list from task.md.",
	Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
}

var readURLTool = turtle.ToolDefinition{
	Name:        "read_url",
	Description: "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch"}
		},
		"required": ["url"]
	}`),
}

// allTools maps a tool-group name (as listed in an agent's config "tools"
// field) to the concrete ToolDefinitions it grants.
var allTools = map[string][]turtle.ToolDefinition{
	"shell":  {shellTool},
	"memory": {memoryReadTool, memoryWriteTool},
	"task":   {taskReadTool},
	"web":    {readURLTool},
}

// toolsFor resolves an agent's enabled tool groups into the flat list of
// ToolDefinitions passed to the LLM.
func toolsFor(groups []string) []turtle.ToolDefinition {
	var tools []turtle.ToolDefinition
	for _, g := range groups {
		if defs, ok := allTools[g]; ok {
			tools = append(tools, defs...)
		}
	}
	return tools
}
