package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort scripts reads and records writes without a physical port.
type fakePort struct {
	chunks [][]byte // served one per Read call; exhausted reads time out
	wrote  []byte
	closed bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, nil // go.bug.st/serial timeout signature
	}
	n := copy(p, f.chunks[0])
	f.chunks = f.chunks[1:]
	return n, nil
}
func (f *fakePort) Write(p []byte) (int, error) {
	f.wrote = append(f.wrote, p...)
	return len(p), nil
}
func (f *fakePort) SetMode(mode *serial.Mode) error          { return nil }
func (f *fakePort) Drain() error                             { return nil }
func (f *fakePort) ResetInputBuffer() error                  { return nil }
func (f *fakePort) ResetOutputBuffer() error                 { return nil }
func (f *fakePort) SetDTR(dtr bool) error                    { return nil }
func (f *fakePort) SetRTS(rts bool) error                    { return nil }
func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (f *fakePort) SetReadTimeout(t time.Duration) error     { return nil }
func (f *fakePort) Close() error                             { f.closed = true; return nil }
func (f *fakePort) Break(d time.Duration) error              { return nil }

func TestNewSerial_Defaults(t *testing.T) {
	s := NewSerial("Humidistat v1", 0, "", "")
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.False(t, s.IsConnected())
	assert.Empty(t, s.PortName())
}

func TestSerial_NotConnected(t *testing.T) {
	s := NewSerial("Humidistat v1", 115200, "", "")

	_, err := s.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.Write("a000"), ErrNotConnected)
	assert.NoError(t, s.Close()) // close without connect is a no-op
}

func TestReadLine_WholeLine(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("hello world\n")}}

	line, err := readLine(port, nil, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "hello world", line)
}

func TestReadLine_SplitAcrossReads(t *testing.T) {
	port := &fakePort{chunks: [][]byte{
		[]byte("1000\t1\t0"),
		[]byte("\t1\t45.2\t44.8\t22.1"),
		[]byte("\t22.3\t101325\t101300\n"),
	}}

	line, err := readLine(port, nil, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "1000\t1\t0\t1\t45.2\t44.8\t22.1\t22.3\t101325\t101300", line)
}

func TestReadLine_StripsCarriageReturn(t *testing.T) {
	port := &fakePort{chunks: [][]byte{[]byte("abc\r\n")}}

	line, err := readLine(port, nil, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "abc", line)
}

func TestReadLine_KeepsRemainderForNextCall(t *testing.T) {
	var buf []byte
	port := &fakePort{chunks: [][]byte{[]byte("first\nsecond\nthi")}}

	line, err := readLine(port, &buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	// Second line comes straight from the carry-over buffer.
	line, err = readLine(port, &buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	// The partial third line stays buffered until its newline arrives.
	port.chunks = [][]byte{[]byte("rd\n")}
	line, err = readLine(port, &buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "third", line)
}

func TestReadLine_Timeout(t *testing.T) {
	port := &fakePort{} // nothing to read

	_, err := readLine(port, nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestReadLine_PartialWithoutNewlineTimesOut(t *testing.T) {
	var buf []byte
	port := &fakePort{chunks: [][]byte{[]byte("no newline here")}}

	_, err := readLine(port, &buf, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	// Bytes already received must not be lost.
	assert.Equal(t, []byte("no newline here"), buf)
}
