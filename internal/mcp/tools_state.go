package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
)

// handleListSensors processes sensoria_list_sensors tool calls.
func (s *Server) handleListSensors(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ListSensorsInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.states == nil {
		return errorResult(ErrNoStateProvider)
	}

	if !input.Detail {
		ids := s.states.ListSensors()

		return jsonResult(SensorList{Count: len(ids), Sensors: ids})
	}

	states := s.states.GetAllSensorsState(ctx, sensor.StateView, DefaultStateLimit)

	return jsonResult(SensorList{Count: len(states), States: states})
}

// handleSensorState processes sensoria_sensor_state tool calls.
func (s *Server) handleSensorState(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SensorStateInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if s.states == nil {
		return errorResult(ErrNoStateProvider)
	}

	err := validateStateInput(input.SensorID, input.Limit)
	if err != nil {
		return errorResult(err)
	}

	limit := input.Limit
	if limit == 0 {
		limit = DefaultStateLimit
	}

	state, err := s.states.GetSensorState(ctx, input.SensorID, sensor.ParseStateMode(input.Mode), limit)
	if err != nil {
		return errorResult(fmt.Errorf("sensor state: %w", err))
	}

	return jsonResult(state)
}
