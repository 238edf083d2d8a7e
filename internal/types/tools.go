package types

type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema []ToolParameter `json:"inputSchema"`
	Annotations map[string]bool `json:"annotations,omitempty"`
}

type ToolsListResponse struct {
	Tools []ToolDefinition `json:"tools"`
}
