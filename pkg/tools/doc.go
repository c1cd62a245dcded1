// Package tools exposes connector operations as callable tools.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/mediahub/pkg/tools/toolbox]: Tool type and ToolBox for registering, filtering and calling tools
//   - [github.com/germanamz/mediahub/pkg/tools/mcpserver]: MCP server using the official MCP Go SDK for serving a ToolBox
//
// The hub builds its ToolBox in [github.com/germanamz/mediahub/pkg/hub.Hub.Tools];
// `mediahub mcp` serves it on stdio.
package tools
