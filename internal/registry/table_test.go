package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtmd/dtmd/internal/wire"
)

func TestDisconnectCodeMatchesWire(t *testing.T) {
	assert.EqualValues(t, wire.CodeMsgDisconnect, disconnectCode)
}

type recordingHandler struct {
	connected    []uint32
	disconnected []uint32
	messages     []uint32
}

func (h *recordingHandler) Connected(ch *Channel)    { h.connected = append(h.connected, ch.ID) }
func (h *recordingHandler) Disconnected(ch *Channel) { h.disconnected = append(h.disconnected, ch.ID) }
func (h *recordingHandler) Message(ch *Channel, code uint8, payload []byte) error {
	h.messages = append(h.messages, ch.ID)
	return nil
}

func TestHandleFrameCreatesChannelOnFirstSight(t *testing.T) {
	tbl := NewTable(4)
	tbl.Bind(7)
	h := &recordingHandler{}

	require.NoError(t, tbl.HandleFrame(1, wire.CodeReqStart, nil, h))
	assert.Equal(t, []uint32{1}, h.connected)
	assert.Equal(t, []uint32{1}, h.messages)
	assert.Equal(t, int32(7), tbl.slots[1].ConnIdx)
	assert.Equal(t, 1, tbl.Len())
}

func TestHandleFrameDisconnectTearsDownChannel(t *testing.T) {
	tbl := NewTable(4)
	h := &recordingHandler{}
	require.NoError(t, tbl.HandleFrame(2, wire.CodeReqStart, nil, h))

	require.NoError(t, tbl.HandleFrame(2, wire.CodeMsgDisconnect, nil, h))
	assert.Equal(t, []uint32{2}, h.disconnected)
	assert.Equal(t, 0, tbl.Len())
}

func TestHandleFrameRejectsOverCapacity(t *testing.T) {
	tbl := NewTable(1)
	h := &recordingHandler{}
	require.NoError(t, tbl.HandleFrame(1, wire.CodeReqStart, nil, h))

	err := tbl.HandleFrame(2, wire.CodeReqStart, nil, h)
	assert.Error(t, err)
}

func TestCloseAllDisconnectsEveryChannel(t *testing.T) {
	tbl := NewTable(4)
	h := &recordingHandler{}
	require.NoError(t, tbl.HandleFrame(1, wire.CodeReqStart, nil, h))
	require.NoError(t, tbl.HandleFrame(2, wire.CodeReqStart, nil, h))

	tbl.CloseAll(h)
	assert.Len(t, h.disconnected, 2)
	assert.Equal(t, 0, tbl.Len())
}
