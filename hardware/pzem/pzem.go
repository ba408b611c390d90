// Package pzem talks to PZEM-004T v3 energy meter over Modbus RTU.
package pzem

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/internal/types"
)

const (
	registerCount   = 10
	funcResetEnergy = 0x42
	defaultBaudRate = 9600
	defaultTimeout  = 500 * time.Millisecond
)

type Config struct {
	Device   string
	BaudRate int
	SlaveID  byte
	Timeout  time.Duration
}

// link is the subset of modbus RTU handler used here.
type link interface {
	Connect() error
	Close() error
	Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error)
	Send(adu []byte) ([]byte, error)
}

type inputReader interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

type Meter struct {
	mu        sync.Mutex
	link      link
	client    inputReader
	connected bool
}

func New(config Config) *Meter {
	handler := modbus.NewRTUClientHandler(config.Device)
	handler.BaudRate = config.BaudRate
	if handler.BaudRate == 0 {
		handler.BaudRate = defaultBaudRate
	}
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = config.SlaveID
	if handler.SlaveId == 0 {
		handler.SlaveId = 1
	}
	handler.Timeout = config.Timeout
	if handler.Timeout == 0 {
		handler.Timeout = defaultTimeout
	}
	return &Meter{link: handler, client: modbus.NewClient(handler)}
}

func (self *Meter) Read(ctx context.Context) (types.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return types.Reading{}, err
	}
	if err := self.connect(); err != nil {
		return types.Reading{}, err
	}
	b, err := self.client.ReadInputRegisters(0, registerCount)
	if err != nil {
		self.disconnect()
		return types.Reading{}, errors.Annotate(err, "pzem read registers")
	}
	return Decode(b)
}

// Reconnect closes serial port and opens it again, then checks meter responds.
func (self *Meter) Reconnect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	self.disconnect()
	if err := self.connect(); err != nil {
		return err
	}
	if _, err := self.client.ReadInputRegisters(0, 1); err != nil {
		self.disconnect()
		return errors.Annotate(err, "pzem probe")
	}
	return nil
}

// ResetEnergy sends vendor function 0x42, meter replies with 4 byte echo.
func (self *Meter) ResetEnergy(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := self.connect(); err != nil {
		return err
	}
	adu, err := self.link.Encode(&modbus.ProtocolDataUnit{FunctionCode: funcResetEnergy})
	if err != nil {
		return errors.Annotate(err, "pzem reset encode")
	}
	resp, err := self.link.Send(adu)
	if err != nil {
		self.disconnect()
		return errors.Annotate(err, "pzem reset send")
	}
	if len(resp) < 2 || resp[1] != funcResetEnergy {
		return errors.Errorf("pzem reset unexpected response=%x", resp)
	}
	return nil
}

func (self *Meter) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.connected {
		return nil
	}
	self.connected = false
	return errors.Annotate(self.link.Close(), "pzem close")
}

func (self *Meter) connect() error {
	if self.connected {
		return nil
	}
	if err := self.link.Connect(); err != nil {
		return errors.Annotate(err, "pzem connect")
	}
	self.connected = true
	return nil
}

func (self *Meter) disconnect() {
	if self.connected {
		_ = self.link.Close()
		self.connected = false
	}
}

// Decode converts input registers 0x0000-0x0009 into calibrated values.
// 32 bit values are sent low word first.
func Decode(b []byte) (types.Reading, error) {
	if len(b) < registerCount*2 {
		return types.Reading{}, errors.NotValidf("pzem response length=%d", len(b))
	}
	reg := func(i int) uint32 { return uint32(binary.BigEndian.Uint16(b[i*2:])) }
	reg32 := func(i int) uint32 { return reg(i) | reg(i+1)<<16 }
	return types.Reading{
		Voltage:     float64(reg(0)) / 10,
		Current:     float64(reg32(1)) / 1000,
		Power:       float64(reg32(3)) / 10,
		Energy:      float64(reg32(5)) / 1000,
		Frequency:   float64(reg(7)) / 10,
		PowerFactor: float64(reg(8)) / 100,
	}, nil
}
