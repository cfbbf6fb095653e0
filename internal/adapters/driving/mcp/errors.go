// Package mcp provides an MCP (Model Context Protocol) server adapter for foldline.
// It lets AI assistants submit structure predictions and inspect the cache.
package mcp

import "errors"

// ErrMissingPredictionService is returned when the prediction service is not provided.
var ErrMissingPredictionService = errors.New("mcp: prediction service is required")
