package device

// Command is a single-byte instruction sent to the device.
type Command byte

const (
	CmdReset      Command = 'r'
	CmdOpenValve  Command = 'o'
	CmdCloseValve Command = 'c'
	CmdTare       Command = 't'
)

// Ack is a textual reply or status line emitted by the device.
type Ack string

const (
	AckReady       Ack = "ready"
	AckReset       Ack = "reset-ack"
	AckValveOpen   Ack = "valve-open"
	AckValveClosed Ack = "valve-closed"
	AckTare        Ack = "tare-ack"
	AckWeightError Ack = "weight-error"
)

// Device defines the interface for flow sensor devices (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Frames() <-chan Frame
	Acks() <-chan Ack
	Send(cmd Command) error
	IsConnected() bool
}

var _ Device = (*Serial)(nil)
var _ Device = (*Mock)(nil)
