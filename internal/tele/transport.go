package tele

import (
	"time"

	"github.com/temoto/flowtele/internal/command"
)

// Transport contract:
// - New fails only with invalid config, ignores network errors
// - application may start without network available
// - Send* return within publish timeout, false means not delivered, caller keeps the data
// - delivery is at least once, collector must tolerate duplicates
type Transporter interface {
	Ready() bool
	SendTelemetry(payload []byte) bool
	SendState(payload []byte) bool
	Close()
}

// CommandCallback is called from transport goroutine.
type CommandCallback func(channel command.Channel, payload []byte)

type Config struct {
	Enabled        bool
	Broker         string
	Password       string
	DeviceID       string
	TopicPrefix    string
	KeepAlive      time.Duration
	PublishTimeout time.Duration
	StorePath      string
	LogDebug       bool
}

type Noop struct{}

var _ Transporter = Noop{}

func (Noop) Ready() bool               { return false }
func (Noop) SendTelemetry([]byte) bool { return false }
func (Noop) SendState([]byte) bool     { return false }
func (Noop) Close()                    {}
