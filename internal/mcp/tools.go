package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
)

// Tool name constants.
const (
	ToolNameListSensors = "sensoria_list_sensors"
	ToolNameSensorState = "sensoria_sensor_state"
	ToolNameAttention   = "sensoria_attention"
)

// State query limits.
const (
	// DefaultStateLimit is the per-attribute measurement count when the
	// request does not set one.
	DefaultStateLimit = 10
	// MaxStateLimit caps the per-attribute measurement count.
	MaxStateLimit = 1000
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptySensorID indicates the sensor_id parameter is empty.
	ErrEmptySensorID = errors.New("sensor_id parameter is required and must not be empty")
	// ErrLimitOutOfRange indicates the limit parameter is negative or above the cap.
	ErrLimitOutOfRange = errors.New("limit out of range")
	// ErrNoStateProvider indicates the server was built without a sensor directory.
	ErrNoStateProvider = errors.New("sensor state is not available on this server")
	// ErrNoAttentionProvider indicates the server was built without an attention tracker.
	ErrNoAttentionProvider = errors.New("attention tracking is not available on this server")
)

// Input types (auto-generate JSON schemas via struct tags).

// ListSensorsInput is the input schema for the sensoria_list_sensors tool.
type ListSensorsInput struct {
	Detail bool `json:"detail,omitempty" jsonschema:"include a view-mode state snapshot per sensor instead of ids only"`
}

// SensorStateInput is the input schema for the sensoria_sensor_state tool.
type SensorStateInput struct {
	SensorID string `json:"sensor_id"       jsonschema:"id of the sensor to inspect"`
	Mode     string `json:"mode,omitempty"  jsonschema:"snapshot shape: default (recent measurements) or view (last value only)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum recent measurements per attribute (default: 10)"`
}

// AttentionInput is the input schema for the sensoria_attention tool.
type AttentionInput struct {
	SensorID    string `json:"sensor_id"              jsonschema:"id of the sensor"`
	AttributeID string `json:"attribute_id,omitempty" jsonschema:"optional attribute id for per-attribute attention"`
}

// Output types (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// SensorList is the payload of the sensoria_list_sensors tool.
type SensorList struct {
	Count   int                  `json:"count"`
	Sensors []string             `json:"sensors,omitempty"`
	States  []sensor.SensorState `json:"states,omitempty"`
}

// AttentionReport is the payload of the sensoria_attention tool.
type AttentionReport struct {
	SensorID                 string  `json:"sensor_id"`
	AttributeID              string  `json:"attribute_id,omitempty"`
	AttentionLevel           string  `json:"attention_level"`
	SensorAttentionLevel     string  `json:"sensor_attention_level"`
	SystemLoad               string  `json:"system_load"`
	Paused                   bool    `json:"paused"`
	RecommendedBatchWindowMS int64   `json:"recommended_batch_window_ms"`
	RecommendedBatchSize     int     `json:"recommended_batch_size"`
	LoadMultiplier           float64 `json:"load_multiplier"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

// validateStateInput checks sensor_id and limit constraints.
func validateStateInput(sensorID string, limit int) error {
	if sensorID == "" {
		return ErrEmptySensorID
	}

	if limit < 0 || limit > MaxStateLimit {
		return fmt.Errorf("%w: %d (max %d)", ErrLimitOutOfRange, limit, MaxStateLimit)
	}

	return nil
}
