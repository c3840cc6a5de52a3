package sensor

import (
	"encoding/json"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// workerSnapshot is the per-sensor state that survives hibernation.
type workerSnapshot struct {
	ConnectorName string                   `json:"connector_name"`
	Attributes    map[string]AttributeMeta `json:"attributes"`
}

// hibernatedState is a compacted workerSnapshot. rawLen is zero when the
// snapshot was too small to compress and data holds the raw encoding.
type hibernatedState struct {
	data   []byte
	rawLen int
}

func compactState(snap workerSnapshot) (*hibernatedState, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode sensor snapshot: %w", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("compress sensor snapshot: %w", err)
	}

	if written == 0 {
		// Incompressible, keep the raw encoding.
		return &hibernatedState{data: raw}, nil
	}

	return &hibernatedState{data: compressed[:written], rawLen: len(raw)}, nil
}

func expandState(h *hibernatedState) (workerSnapshot, error) {
	raw := h.data

	if h.rawLen > 0 {
		decompressed := make([]byte, h.rawLen)

		n, err := lz4.UncompressBlock(h.data, decompressed)
		if err != nil {
			return workerSnapshot{}, fmt.Errorf("expand sensor snapshot: %w", err)
		}

		raw = decompressed[:n]
	}

	var snap workerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return workerSnapshot{}, fmt.Errorf("decode sensor snapshot: %w", err)
	}

	if snap.Attributes == nil {
		snap.Attributes = make(map[string]AttributeMeta)
	}

	return snap, nil
}
