package websocket

import (
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestMsgFromAny(t *testing.T) {
	msg, err := MsgFromAny(JoinMsg{Type: MsgTypeJoin, Dataset: "ds-1"})
	require.NoError(t, err)
	require.Equal(t, MsgTypeJoin, msg.Type)

	var req JoinMsg
	require.NoError(t, msg.DataTo(&req))
	require.Equal(t, "ds-1", req.Dataset)
}

func TestInboundSchemas(t *testing.T) {
	validate := func(frame string) error {
		var v any
		require.NoError(t, json.Unmarshal([]byte(frame), &v))

		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(frame), &env))

		schema, ok := inboundSchemas[env.Type]
		require.True(t, ok)
		return schema.Validate(v)
	}

	t.Run("valid join", func(t *testing.T) {
		require.NoError(t, validate(`{"type":"join","dataset":"ds-1"}`))
	})

	t.Run("join without dataset", func(t *testing.T) {
		require.Error(t, validate(`{"type":"join"}`))
	})

	t.Run("join with empty dataset", func(t *testing.T) {
		require.Error(t, validate(`{"type":"join","dataset":""}`))
	})

	t.Run("valid camera", func(t *testing.T) {
		require.NoError(t, validate(`{"type":"camera","x":12.5,"y":-3,"altitude":150,"heading":0.7,"fov":1.2,"far":500}`))
	})

	t.Run("camera with string coordinate", func(t *testing.T) {
		require.Error(t, validate(`{"type":"camera","x":"12.5","y":-3,"heading":0.7,"fov":1.2,"far":500}`))
	})

	t.Run("camera without far plane", func(t *testing.T) {
		require.Error(t, validate(`{"type":"camera","x":12.5,"y":-3,"heading":0.7,"fov":1.2}`))
	})

	t.Run("valid ping", func(t *testing.T) {
		require.NoError(t, validate(`{"type":"ping"}`))
	})

	t.Run("valid leave", func(t *testing.T) {
		require.NoError(t, validate(`{"type":"leave"}`))
	})

	t.Run("unknown type", func(t *testing.T) {
		_, ok := inboundSchemas["teleport"]
		require.False(t, ok)
	})
}
