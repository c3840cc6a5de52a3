package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// handleAttention processes sensoria_attention tool calls.
func (s *Server) handleAttention(
	_ context.Context,
	_ *mcpsdk.CallToolRequest,
	input AttentionInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.attention == nil {
		return errorResult(ErrNoAttentionProvider)
	}

	if input.SensorID == "" {
		return errorResult(ErrEmptySensorID)
	}

	cfg := s.attention.SuggestConfig(input.SensorID, input.AttributeID)

	report := AttentionReport{
		SensorID:                 input.SensorID,
		AttributeID:              input.AttributeID,
		AttentionLevel:           cfg.AttentionLevel.String(),
		SensorAttentionLevel:     s.attention.GetSensorAttentionLevel(input.SensorID).String(),
		SystemLoad:               cfg.SystemLoad.String(),
		Paused:                   cfg.Paused,
		RecommendedBatchWindowMS: cfg.RecommendedBatchWindow.Milliseconds(),
		RecommendedBatchSize:     cfg.RecommendedBatchSize,
		LoadMultiplier:           cfg.LoadMultiplier,
	}

	return jsonResult(report)
}
