package motorlink

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/serialport"
	"github.com/banshee-data/body.control/internal/timeutil"
)

// fakeBoard answers requests the way a controller of the given dialect would.
type fakeBoard struct {
	dialect     Dialect
	version     string
	left, right uint32
	battery     uint16
	flipNext    bool // corrupt one payload byte of the next reply
	ack         byte
}

func (f *fakeBoard) respond(p []byte) []byte {
	if len(p) < 2 {
		return nil
	}
	req := p[:2]
	var payload []byte
	switch p[1] {
	case CmdReadVersion:
		payload = append([]byte(f.version), 0)
	case CmdReadLeftEncoder:
		payload = binary.BigEndian.AppendUint32(nil, f.left)
	case CmdReadRightEncoder:
		payload = binary.BigEndian.AppendUint32(nil, f.right)
	case CmdReadBattery:
		payload = binary.BigEndian.AppendUint16(nil, f.battery)
	default:
		if f.dialect == DialectModern {
			return []byte{f.ack}
		}
		return nil
	}
	reply := Seal(f.dialect, append(append([]byte(nil), req...), payload...))[2:]
	if f.flipNext {
		reply[0] ^= 0x01
		f.flipNext = false
	}
	return reply
}

func newBoardCodec(t *testing.T, board *fakeBoard) (*Codec, *serialport.TestablePort) {
	t.Helper()
	port := serialport.NewTestablePort()
	port.OnWrite = board.respond
	tr := serialport.NewTransport(port, 5*time.Millisecond, timeutil.NewMockClock(time.Unix(0, 0)))
	return New(tr, DefaultAddress), port
}

func TestChecks(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint16(0x31C3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0), CRC16(nil))
	assert.Equal(t, byte((0x80+0x10+0x05)&0x7F), Sum7([]byte{0x80, 0x10, 0x05}))
	assert.Equal(t, []byte{0x80, 0x14, Sum7([]byte{0x80, 0x14})}, Seal(DialectClassic, []byte{0x80, 0x14}))
	assert.Len(t, Seal(DialectModern, []byte{0x80, 0x14}), 4)
	assert.Equal(t, []byte{1}, Seal(DialectUnknown, []byte{1}))
}

func TestVersion_DetectsDialectAndPolarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		board    fakeBoard
		dialect  Dialect
		polarity int
	}{
		{"classic 2x15", fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x15 v3.1.2"}, DialectClassic, 1},
		{"classic 2x5", fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x5 v3.0"}, DialectClassic, -1},
		{"modern 2x30a", fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x30a v4.1.11"}, DialectModern, 1},
		{"modern 2x60a", fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x60a v4.2.8"}, DialectModern, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			board := tt.board
			c, _ := newBoardCodec(t, &board)
			assert.Equal(t, DialectUnknown, c.Dialect())

			v, err := c.Version()
			require.NoError(t, err)
			assert.Equal(t, tt.board.version, v)
			assert.Equal(t, tt.dialect, c.Dialect())
			assert.Equal(t, tt.polarity, c.Polarity())
			assert.Equal(t, tt.board.version, c.VersionString())
		})
	}
}

func TestVersion_BadCheckLeavesDialectUnknown(t *testing.T) {
	t.Parallel()
	board := &fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x15 v3", flipNext: true}
	c, _ := newBoardCodec(t, board)

	_, err := c.Version()
	assert.True(t, errors.Is(err, monitoring.ErrCommCheck))
	assert.Equal(t, DialectUnknown, c.Dialect())

	_, err = c.Query(CmdReadBattery, 2)
	assert.True(t, errors.Is(err, monitoring.ErrLinkDown), "no dialect means no link")
	assert.ErrorIs(t, c.Write(CmdResetEncoders, nil), monitoring.ErrLinkDown)
}

func TestQuery_ClassicCheckRejection(t *testing.T) {
	t.Parallel()
	board := &fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x15 v3", left: 100, right: 200}
	c, _ := newBoardCodec(t, board)
	_, err := c.Version()
	require.NoError(t, err)

	board.flipNext = true
	_, _, err = c.ReadEncoders()
	assert.True(t, errors.Is(err, monitoring.ErrCommCheck))
	assert.False(t, errors.Is(err, monitoring.ErrLinkDown))
	assert.Equal(t, 1, c.Failures())
	assert.Equal(t, uint64(1), c.Errors())

	l, r, err := c.ReadEncoders()
	require.NoError(t, err)
	assert.Equal(t, uint32(100), l)
	assert.Equal(t, uint32(200), r)
	assert.Equal(t, 0, c.Failures())
}

func TestQuery_LinkDownAndRecovery(t *testing.T) {
	t.Parallel()
	board := &fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x15a v4", battery: 124}
	c, port := newBoardCodec(t, board)
	_, err := c.Version()
	require.NoError(t, err)

	port.OnWrite = nil // controller goes silent
	for i := 1; i <= LinkDownThreshold; i++ {
		_, err = c.ReadBattery()
		require.Error(t, err)
		assert.True(t, errors.Is(err, monitoring.ErrTimeout))
		assert.Equal(t, i >= LinkDownThreshold, c.LinkDown(), "after %d failures", i)
	}
	assert.True(t, errors.Is(err, monitoring.ErrLinkDown))

	port.OnWrite = board.respond
	v, err := c.ReadBattery()
	require.NoError(t, err)
	assert.InDelta(t, 12.4, v, 1e-9)
	assert.False(t, c.LinkDown())
}

func TestWrite_ModernAcksStrippedBeforeQuery(t *testing.T) {
	t.Parallel()
	board := &fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x15a v4", ack: ackByte, battery: 120}
	c, port := newBoardCodec(t, board)
	_, err := c.Version()
	require.NoError(t, err)
	port.Written()

	require.NoError(t, c.DriveVelocity(250, -250))
	require.NoError(t, c.ResetEncoders())
	pkt := port.Written()
	require.Len(t, pkt, 2+8+2+2+2)
	assert.Equal(t, []byte{0x80, CmdVelocityDual, 0, 0, 0, 250, 0xFF, 0xFF, 0xFF, 6}, pkt[:10])

	_, err = c.ReadBattery()
	require.NoError(t, err, "two pending acks are consumed first")

	board.ack = 0x00
	require.NoError(t, c.Disable())
	_, err = c.ReadBattery()
	assert.True(t, errors.Is(err, monitoring.ErrCommCheck))
}

func TestSetVelocityPID_ScalesPerDialect(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		board fakeBoard
		scale uint32
	}{
		{fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x15 v3"}, 1 << 12},
		{fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x15a v4", ack: ackByte}, 1 << 18},
	} {
		board := tt.board
		c, port := newBoardCodec(t, &board)
		_, err := c.Version()
		require.NoError(t, err)
		port.Written()

		require.NoError(t, c.SetVelocityPID(2, PID{P: 1, I: 0.5, D: 0.25, QPPS: 312}))
		pkt := port.Written()
		assert.Equal(t, CmdSetM2PID, pkt[1])
		body := pkt[2:18]
		assert.Equal(t, tt.scale/4, binary.BigEndian.Uint32(body[0:]), "D")
		assert.Equal(t, tt.scale, binary.BigEndian.Uint32(body[4:]), "P")
		assert.Equal(t, tt.scale/2, binary.BigEndian.Uint32(body[8:]), "I")
		assert.Equal(t, uint32(312), binary.BigEndian.Uint32(body[12:]), "QPPS")
		assert.Error(t, c.SetVelocityPID(3, PID{}))
	}
}

func TestSetBatteryWindow(t *testing.T) {
	t.Parallel()
	classic := &fakeBoard{dialect: DialectClassic, version: "Roboclaw 2x15 v3"}
	c, port := newBoardCodec(t, classic)
	_, err := c.Version()
	require.NoError(t, err)
	port.Written()
	require.NoError(t, c.SetBatteryWindow(10.5, 14.5))
	assert.Empty(t, port.Written(), "classic boards have no battery window")

	modern := &fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x15a v4", ack: ackByte}
	c, port = newBoardCodec(t, modern)
	_, err = c.Version()
	require.NoError(t, err)
	port.Written()
	require.NoError(t, c.SetBatteryWindow(10.5, 14.5))
	pkt := port.Written()
	assert.Equal(t, []byte{0x80, CmdSetBatteryWindow, 0, 105, 0, 145}, pkt[:6])
}

func TestReset_ClearsPendingAndInput(t *testing.T) {
	t.Parallel()
	board := &fakeBoard{dialect: DialectModern, version: "USB Roboclaw 2x15a v4", ack: ackByte}
	c, port := newBoardCodec(t, board)
	_, err := c.Version()
	require.NoError(t, err)

	require.NoError(t, c.ResetEncoders())
	require.NoError(t, c.Reset())
	assert.Equal(t, 0, c.pending)
	assert.Equal(t, DialectModern, c.Dialect(), "reset keeps the dialect")
	assert.GreaterOrEqual(t, port.Flushes, 2)
}

func TestSetLight_NeedsRTSLine(t *testing.T) {
	t.Parallel()
	c, _ := newBoardCodec(t, &fakeBoard{version: "USB Roboclaw 2x15a v4.1.34"})
	err := c.SetLight(true)
	assert.ErrorIs(t, err, serialport.ErrNoLine, "the test port has no modem lines")
}
