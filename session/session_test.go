package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proplink/driver"
	"proplink/reset"
	"proplink/transport"
)

// recordingPort counts writes on top of a loopback device.
type recordingPort struct {
	*driver.LoopbackPort
	mu     sync.Mutex
	writes [][]byte
}

func (p *recordingPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.mu.Unlock()
	return p.LoopbackPort.Write(b)
}

type devices struct {
	mu    sync.Mutex
	ports map[string][]*recordingPort
}

func (d *devices) open(target string, baud int) (driver.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ports == nil {
		d.ports = map[string][]*recordingPort{}
	}
	p := &recordingPort{LoopbackPort: driver.NewLoopbackPort()}
	d.ports[target] = append(d.ports[target], p)
	return p, nil
}

func (d *devices) port(target string, i int) *recordingPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ports[target][i]
}

func (d *devices) opens(target string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ports[target])
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

func newTestSession(devs *devices) *Session {
	s := New(transport.WithOpener(devs.open))
	s.Reset = &reset.Sequencer{Clock: noSleep{}, Assert: reset.AssertHold, Settle: reset.SettleHold}
	s.PollInterval = 5 * time.Millisecond
	return s
}

func TestAttachSameTargetIsNoop(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)

	require.NoError(t, s.Attach("/dev/ttyUSB0", 115200))
	first := s.Conn()
	require.NoError(t, s.Attach("/dev/ttyUSB0", 115200))

	assert.Same(t, first, s.Conn())
	assert.Equal(t, 1, devs.opens("/dev/ttyUSB0"))
	assert.Equal(t, StateOpen, s.State.GetState())
}

func TestAttachSameTargetKeepsOpenRate(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)

	require.NoError(t, s.Attach("/dev/ttyUSB0", 57600))
	require.NoError(t, s.Attach("/dev/ttyUSB0", 38400))

	assert.Equal(t, 1, devs.opens("/dev/ttyUSB0"))
	assert.Equal(t, 57600, s.Conn().Config().Baud)
	assert.Equal(t, 57600, s.State.GetStatusInfo().Baud)
}

func TestAttachDifferentTargetClosesPrevious(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)

	require.NoError(t, s.Attach("/dev/ttyUSB0", 0))
	require.NoError(t, s.Attach("/dev/ttyUSB1", 57600))

	assert.True(t, devs.port("/dev/ttyUSB0", 0).Closed())
	assert.False(t, devs.port("/dev/ttyUSB1", 0).Closed())
	assert.Equal(t, "/dev/ttyUSB1", s.Conn().Target())

	info := s.State.GetStatusInfo()
	assert.Equal(t, 57600, info.Baud)
	assert.True(t, info.IsConnected)
}

func TestAttachFailureLeavesErrorState(t *testing.T) {
	s := newTestSession(&devices{})

	err := s.Attach("/dev/ttyUSB0", 9600)
	var baudErr *transport.UnsupportedBaudError
	require.ErrorAs(t, err, &baudErr)
	assert.Nil(t, s.Conn())
	assert.Equal(t, StateError, s.State.GetState())
	assert.Contains(t, s.State.GetStatusInfo().LastError, "9600")
}

func TestSendOneBytePerWrite(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Attach("loop://a", 0))

	n, err := s.Send([]byte("go!"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, [][]byte{{'g'}, {'o'}, {'!'}}, devs.port("loop://a", 0).writes)
}

func TestSendWithoutDevice(t *testing.T) {
	s := newTestSession(&devices{})
	_, err := s.Send([]byte("x"))
	assert.True(t, IsNotAttached(err))
	assert.True(t, IsNotAttached(s.ResetDevice()))
	assert.True(t, IsNotAttached(s.SetDTR(true)))
}

func TestResetDeviceTogglesDTR(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Attach("loop://a", 0))

	var states []string
	s.State.SetCallback(func(info StatusInfo) { states = append(states, info.State) })

	require.NoError(t, s.ResetDevice())
	changes := devs.port("loop://a", 0).DTRChanges()
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Level)
	assert.False(t, changes[1].Level)
	assert.Equal(t, []string{"RESETTING", "OPEN"}, states)
}

func TestResetDeviceFailure(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Attach("loop://a", 0))
	devs.port("loop://a", 0).DTRErr = driver.ErrNoControlLine

	err := s.ResetDevice()
	assert.ErrorIs(t, err, driver.ErrNoControlLine)
	assert.Equal(t, StateError, s.State.GetState())
	assert.NotNil(t, s.Conn())
}

func TestPumpDeliversChunks(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Attach("loop://a", 0))

	received := make(chan []byte, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Pump(ctx, func(b []byte) { received <- b }) }()

	payload := make([]byte, MaxChunk+10)
	for i := range payload {
		payload[i] = 'x'
	}
	devs.port("loop://a", 0).Inject(payload)

	var got []byte
	for len(got) < len(payload) {
		select {
		case chunk := <-received:
			assert.LessOrEqual(t, len(chunk), MaxChunk)
			got = append(got, chunk...)
		case <-time.After(time.Second):
			t.Fatal("pump did not deliver data")
		}
	}
	assert.Equal(t, payload, got)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPumpDetachesOnReadError(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Attach("loop://a", 0))
	devs.port("loop://a", 0).ReadErr = errors.New("device unplugged")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Pump(ctx, func([]byte) {})

	require.Eventually(t, func() bool { return s.Conn() == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateError, s.State.GetState())
	assert.Contains(t, s.State.GetStatusInfo().LastError, "device unplugged")
}

func TestDetach(t *testing.T) {
	devs := &devices{}
	s := newTestSession(devs)
	require.NoError(t, s.Detach())

	require.NoError(t, s.Attach("loop://a", 0))
	require.NoError(t, s.Detach())
	assert.Nil(t, s.Conn())
	assert.True(t, devs.port("loop://a", 0).Closed())
	assert.Equal(t, StateClosed, s.State.GetState())
}
