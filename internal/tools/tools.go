// Package tools implements the server-side capabilities the model may invoke
// mid-conversation. Tool execution never fails with an error: every failure
// path resolves to a textual result the model can read and react to.
package tools

import (
	"context"
	"fmt"

	"github.com/reviewrelay/reviewrelay/internal/domain"
)

// Tool is one callable capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Execute     func(ctx context.Context, args string) string
}

// Set is the collection of tools offered on a request.
type Set struct {
	tools []Tool
	index map[string]int
}

// NewSet builds a set from the given tools.
func NewSet(tools ...Tool) *Set {
	s := &Set{tools: tools, index: make(map[string]int, len(tools))}
	for i, t := range tools {
		s.index[t.Name] = i
	}
	return s
}

// Definitions returns the tool declarations sent to the provider.
func (s *Set) Definitions() []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = domain.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return defs
}

// Execute runs the named tool. An unknown tool name also resolves to a
// textual result so the model can correct itself on the next step.
func (s *Set) Execute(ctx context.Context, name, args string) string {
	i, ok := s.index[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	return s.tools[i].Execute(ctx, args)
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tools)
}
