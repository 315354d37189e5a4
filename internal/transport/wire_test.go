package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-bridge/internal/domain/bridge"
)

func TestWireErrorToBridge(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bridge.Code
	}{
		{"network", "NETWORK_ERROR", bridge.CodeNetwork},
		{"timeout", "TIMEOUT", bridge.CodeTimeout},
		{"unauthorized", "UNAUTHORIZED", bridge.CodeUnauthorized},
		{"forbidden", "FORBIDDEN", bridge.CodeForbidden},
		{"server", "SERVER_ERROR", bridge.CodeServer},
		{"unknown", "UNKNOWN_ERROR", bridge.CodeUnknown},
		{"outside taxonomy", "EPROTO", bridge.CodeServer},
		{"empty", "", bridge.CodeServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			we := &WireError{Code: tt.code, Message: "m"}
			be := we.ToBridge()
			assert.Equal(t, tt.want, be.Code)
			assert.Equal(t, "m", be.Message)
		})
	}
}

func TestWireErrorDetails(t *testing.T) {
	we := &WireError{Code: "SERVER_ERROR", Details: json.RawMessage(`{"hint":"x"}`)}
	assert.NotNil(t, we.ToBridge().Details)

	we = &WireError{Code: "SERVER_ERROR"}
	assert.Nil(t, we.ToBridge().Details)
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Type:    FrameRequest,
		ID:      "id-1",
		Command: "ping",
		Payload: json.RawMessage(`{"n":1}`),
	}
	data, err := json.Marshal(f)
	require.NoError(t, err)

	var got Frame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, f, got)
}

func TestErrClosedIsNetworkError(t *testing.T) {
	be := bridge.Classify(ErrClosed)
	assert.Equal(t, bridge.CodeNetwork, be.Code)
	assert.True(t, be.Code.Transient())
}
