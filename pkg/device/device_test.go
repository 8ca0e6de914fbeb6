package device

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Frame
		wantErr bool
	}{
		{
			name: "valid line - pulses only",
			line: "12345,678",
			want: Frame{
				Millis: 12345,
				Pulses: 678,
			},
			wantErr: false,
		},
		{
			name: "valid line - with weight",
			line: "12345,678,42.5",
			want: Frame{
				Millis:    12345,
				Pulses:    678,
				Grams:     42.5,
				HasWeight: true,
			},
			wantErr: false,
		},
		{
			name: "valid line - negative weight",
			line: "12345,678,-0.3",
			want: Frame{
				Millis:    12345,
				Pulses:    678,
				Grams:     -0.3,
				HasWeight: true,
			},
			wantErr: false,
		},
		{
			name: "valid line - zero counts",
			line: "0,0",
			want: Frame{
				Millis: 0,
				Pulses: 0,
			},
			wantErr: false,
		},
		{
			name:    "invalid - single field",
			line:    "12345",
			wantErr: true,
		},
		{
			name:    "invalid - too many fields",
			line:    "12345,678,42.5,extra",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric millis",
			line:    "abc,678",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric pulses",
			line:    "12345,abc",
			wantErr: true,
		},
		{
			name:    "invalid - negative pulses",
			line:    "12345,-678",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric weight",
			line:    "12345,678,heavy",
			wantErr: true,
		},
		{
			name:    "invalid - partial frame",
			line:    "123,",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want.Millis, got.Millis)
				assert.Equal(t, tt.want.Pulses, got.Pulses)
				assert.Equal(t, tt.want.Grams, got.Grams)
				assert.Equal(t, tt.want.HasWeight, got.HasWeight)
				assert.False(t, got.Timestamp.IsZero())
			}
		})
	}
}

func TestClassifyAck(t *testing.T) {
	for _, line := range []string{"ready", "reset-ack", "valve-open", "valve-closed", "tare-ack", "weight-error"} {
		ack, ok := classifyAck(line)
		assert.True(t, ok, line)
		assert.Equal(t, Ack(line), ack)
	}

	_, ok := classifyAck("12345,678")
	assert.False(t, ok)
	_, ok = classifyAck("banner")
	assert.False(t, ok)
}

func TestNew(t *testing.T) {
	dev := New("/dev/ttyACM0", 115200, 100)
	assert.NotNil(t, dev)
	assert.Equal(t, "/dev/ttyACM0", dev.port)
	assert.Equal(t, 115200, dev.baudRate)
	assert.Equal(t, 100, dev.bufSize)
	assert.NotNil(t, dev.frames)
	assert.NotNil(t, dev.acks)
	assert.False(t, dev.IsConnected())
}

func TestNew_Defaults(t *testing.T) {
	dev := New("/dev/ttyACM0", 0, 0)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultBufferSize, dev.bufSize)
}

func TestReadLines_TransportLossClosesChannels(t *testing.T) {
	dev := New("/dev/ttyACM0", 0, 0)
	dev.connected = true // Simulate an established connection with no real port

	// One frame, one ack, then EOF: the transport is gone.
	go dev.readLines(strings.NewReader("100,5\nready\n"))

	select {
	case f, ok := <-dev.Frames():
		require.True(t, ok)
		assert.Equal(t, uint64(5), f.Pulses)
	case <-time.After(time.Second):
		t.Fatal("no frame before transport loss")
	}

	select {
	case a, ok := <-dev.Acks():
		require.True(t, ok)
		assert.Equal(t, AckReady, a)
	case <-time.After(time.Second):
		t.Fatal("no ack before transport loss")
	}

	// Both channels must close so consumers observe the disconnect instead
	// of waiting out a frame drought.
	select {
	case _, ok := <-dev.Frames():
		assert.False(t, ok, "frames channel should close on transport loss")
	case <-time.After(time.Second):
		t.Fatal("frames channel still open after transport loss")
	}
	select {
	case _, ok := <-dev.Acks():
		assert.False(t, ok, "acks channel should close on transport loss")
	case <-time.After(time.Second):
		t.Fatal("acks channel still open after transport loss")
	}

	assert.False(t, dev.IsConnected())

	// A user Close after the reader already tore down is a no-op.
	assert.NoError(t, dev.Close())
}
