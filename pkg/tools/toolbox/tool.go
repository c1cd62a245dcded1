package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler executes a tool with the given JSON input and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool is an executable operation with a name, description, JSON Schema and
// handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// JSON adapts fn into a Handler: the input is decoded into P and the
// returned value is rendered as indented JSON. A nil or empty input decodes
// as the zero P.
func JSON[P any](fn func(ctx context.Context, params P) (any, error)) Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var params P
		if len(input) > 0 && string(input) != "null" {
			if err := json.Unmarshal(input, &params); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
		}

		out, err := fn(ctx, params)
		if err != nil {
			return "", err
		}
		if s, ok := out.(string); ok {
			return s, nil
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(data), nil
	}
}
