package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// ReadFile returns the tool that reads a local file as UTF-8 text.
func ReadFile() Tool {
	return Tool{
		Name:        "read_file",
		Description: "Read the contents of a local file by path. Returns the file text, or an error description if the file cannot be read.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path of the file to read",
				},
			},
			"required": []string{"path"},
		},
		Execute: readFile,
	}
}

func readFile(_ context.Context, args string) string {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return fmt.Sprintf("Error reading file: invalid arguments: %v", err)
	}
	if input.Path == "" {
		return "Error reading file: path is required"
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return string(data)
}
