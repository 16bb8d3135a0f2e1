package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proplink/driver"
)

// fakeDevices hands out loopback ports and remembers every open.
type fakeDevices struct {
	mu    sync.Mutex
	opens []string
	bauds []int
	ports []*driver.LoopbackPort
	err   error
}

func (f *fakeDevices) open(target string, baud int) (driver.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, target)
	f.bauds = append(f.bauds, baud)
	if f.err != nil {
		return nil, f.err
	}
	p := driver.NewLoopbackPort()
	f.ports = append(f.ports, p)
	return p, nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) Sleep(d time.Duration) {
	s.slept = append(s.slept, d)
}

func openLoopback(t *testing.T, devs *fakeDevices, opts ...Option) *Conn {
	t.Helper()
	conn, err := Open("/fake/loopback", 115200, append([]Option{WithOpener(devs.open)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// pattern returns n bytes that never contain CR, which the framing maps to NL.
func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('A' + i%26)
	}
	return p
}

func TestOpenSupportedBauds(t *testing.T) {
	for _, tc := range []struct {
		baud int
		rate int
	}{
		{0, 115200},
		{115200, 115200},
		{57600, 57600},
		{38400, 38400},
	} {
		devs := &fakeDevices{}
		conn, err := Open("/fake/loopback", tc.baud, WithOpener(devs.open))
		require.NoError(t, err, "baud %d", tc.baud)

		assert.Equal(t, []int{tc.rate}, devs.bauds)
		assert.Equal(t, 1, devs.ports[0].Flushes)
		assert.Equal(t, Config{Target: "/fake/loopback", Baud: tc.rate}, conn.Config())
		require.NoError(t, conn.Close())
	}
}

func TestOpenUnsupportedBaudTouchesNoDevice(t *testing.T) {
	for _, baud := range []int{9600, 19200, 230400, -1} {
		devs := &fakeDevices{}
		conn, err := Open("/fake/loopback", baud, WithOpener(devs.open))
		assert.Nil(t, conn)

		var baudErr *UnsupportedBaudError
		require.ErrorAs(t, err, &baudErr)
		assert.Equal(t, baud, baudErr.Baud)
		assert.Empty(t, devs.opens)
	}
}

func TestOpenFailureCarriesDiagnostic(t *testing.T) {
	diag := errors.New("permission denied")
	devs := &fakeDevices{err: diag}
	_, err := Open("/dev/ttyUSB9", 0, WithOpener(devs.open))

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "/dev/ttyUSB9", openErr.Target)
	assert.ErrorIs(t, err, diag)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestWriteThenReadScenario(t *testing.T) {
	conn := openLoopback(t, &fakeDevices{})

	n, err := conn.Write([]byte{0x41, 0x42, 0x43})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	buf := make([]byte, 16)
	res, err := conn.ReadWithTimeout(buf, 1000*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, []byte{0x41, 0x42, 0x43}, buf[:res.N])
}

func TestRoundTripFidelity(t *testing.T) {
	for _, size := range []int{1, 16, 1024} {
		conn := openLoopback(t, &fakeDevices{})
		out := pattern(size)

		n, err := conn.Write(out)
		require.NoError(t, err)
		require.Equal(t, size, n)

		var got []byte
		buf := make([]byte, 256)
		for len(got) < size {
			res, err := conn.ReadWithTimeout(buf, 500*time.Millisecond)
			require.NoError(t, err)
			require.False(t, res.TimedOut, "size %d: timed out after %d bytes", size, len(got))
			got = append(got, buf[:res.N]...)
		}
		assert.Equal(t, out, got)
	}
}

func TestReadWithTimeoutElapses(t *testing.T) {
	const slack = 50 * time.Millisecond
	conn := openLoopback(t, &fakeDevices{})
	buf := make([]byte, 8)

	for _, timeout := range []time.Duration{0, 10 * time.Millisecond, 500 * time.Millisecond} {
		start := time.Now()
		res, err := conn.ReadWithTimeout(buf, timeout)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.True(t, res.TimedOut)
		assert.Zero(t, res.N)
		assert.GreaterOrEqual(t, elapsed, timeout)
		assert.LessOrEqual(t, elapsed, timeout+slack, "timeout %v", timeout)
	}
}

func TestReadWithTimeoutZeroCapacity(t *testing.T) {
	conn := openLoopback(t, &fakeDevices{})
	res, err := conn.ReadWithTimeout(nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReadResult{}, res)
}

func TestReadWithTimeoutDeviceError(t *testing.T) {
	devs := &fakeDevices{}
	conn := openLoopback(t, devs)
	boom := errors.New("overrun")
	devs.ports[0].ReadErr = boom

	res, err := conn.ReadWithTimeout(make([]byte, 4), 100*time.Millisecond)
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, boom)
	assert.False(t, res.TimedOut)
}

func TestReadNonBlocking(t *testing.T) {
	devs := &fakeDevices{}
	conn := openLoopback(t, devs)
	buf := make([]byte, 8)

	start := time.Now()
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), 10*time.Millisecond)

	devs.ports[0].Inject([]byte("hi"))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestWriteShortfall(t *testing.T) {
	devs := &fakeDevices{}
	conn := openLoopback(t, devs)
	devs.ports[0].WriteLimit = 2

	n, err := conn.Write([]byte{1, 2, 3, 4})
	assert.Equal(t, 2, n)
	var short *ShortWriteError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 4, short.Want)
	assert.Equal(t, 2, short.Got)
}

func TestWriteThenDelay(t *testing.T) {
	devs := &fakeDevices{}
	sleeps := &sleepRecorder{}
	conn := openLoopback(t, devs, WithClock(sleeps))

	n, err := conn.WriteThenDelay([]byte{0xf9}, 250*time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []time.Duration{250 * time.Microsecond}, sleeps.slept)

	devs.ports[0].WriteLimit = 1
	_, err = conn.WriteThenDelay([]byte{1, 2}, time.Millisecond)
	assert.Error(t, err)
	assert.Len(t, sleeps.slept, 1)
}

func TestClosedConnFailsCleanly(t *testing.T) {
	devs := &fakeDevices{}
	conn, err := Open("/fake/loopback", 0, WithOpener(devs.open))
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, devs.ports[0].Closed())

	buf := make([]byte, 4)
	_, err = conn.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.WriteThenDelay([]byte{1}, time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)

	start := time.Now()
	_, err = conn.ReadWithTimeout(buf, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	assert.ErrorIs(t, conn.SetDTR(true), ErrClosed)
}

func TestSetDTRFailurePropagates(t *testing.T) {
	devs := &fakeDevices{}
	conn := openLoopback(t, devs)
	devs.ports[0].DTRErr = errors.New("ioctl TIOCMBIS: inappropriate ioctl for device")

	err := conn.SetDTR(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, devs.ports[0].DTRErr)
}

func TestOpenLoopbackSchemeThroughDefaultOpener(t *testing.T) {
	conn, err := Open("loop://default", 57600)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)
	res, err := conn.ReadWithTimeout(make([]byte, 1), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, res.N)
}
