package platform

import (
	"encoding/binary"
	"math"
	"sync"

	"windbuck-go/drivers/ina229"
	"windbuck-go/drivers/mcp3208"
	"windbuck-go/drivers/spibus"
	"windbuck-go/errcode"
)

// SimPlant is a first-order model of the converter: the output voltage
// relaxes towards duty·Vin with time constant Tau into a resistive load.
// The model advances by Dt on every ADC conversion of the feedback
// channel, so it runs in step with the control loop.
type SimPlant struct {
	Vin     float64 // input voltage, V
	Tau     float64 // seconds
	Dt      float64 // seconds per conversion
	LoadOhm float64
	Divider float64 // Vout / Vadc
	VRef    float64
	Channel int

	pwm *FakePWM

	mu   sync.Mutex
	vout float64
}

func NewSimPlant(pwm *FakePWM) *SimPlant {
	return &SimPlant{
		Vin:     120,
		Tau:     0.1,
		Dt:      0.001,
		LoadOhm: 25,
		Divider: 20,
		VRef:    5,
		pwm:     pwm,
	}
}

func (p *SimPlant) duty() float64 { return p.pwm.Percent() / 100 }

func (p *SimPlant) advance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.duty() * p.Vin
	p.vout += (target - p.vout) * (1 - math.Exp(-p.Dt/p.Tau))
	return p.vout
}

// Vout returns the modelled output voltage.
func (p *SimPlant) Vout() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vout
}

// Iout is the load current.
func (p *SimPlant) Iout() float64 { return p.Vout() / p.LoadOhm }

// Iin follows from power balance of an ideal buck.
func (p *SimPlant) Iin() float64 { return p.Iout() * p.duty() }

// ADC answers MCP3208 frames. Conversions of the feedback channel advance
// the model; other channels read 0.
func (p *SimPlant) ADC(w, r []byte) error {
	if len(w) != 3 || len(r) != 3 {
		return errcode.New(errcode.InvalidTransfer, "sim.adc", "MCP3208 frames are 3 bytes")
	}
	ch := int(w[0]&0x01)<<2 | int(w[1]>>6)
	var code uint16
	if ch == p.Channel {
		v := p.advance() / p.Divider
		code = uint16(math.Round(math.Min(math.Max(v/p.VRef, 0), 1) * mcp3208.FullScale))
	}
	r[0] = 0
	r[1] = byte(code>>8) & 0x0F
	r[2] = byte(code)
	return nil
}

// SimINA229 answers INA229 register frames. Writes are stored; CURRENT
// reports Amps()/LSB as a 24-bit two's complement code.
type SimINA229 struct {
	Amps func() float64
	LSB  float64

	mu   sync.Mutex
	regs map[uint8]uint32
}

func NewSimINA229(amps func() float64, lsb float64) *SimINA229 {
	return &SimINA229{Amps: amps, LSB: lsb, regs: map[uint8]uint32{}}
}

// Register returns the last value written to reg.
func (s *SimINA229) Register(reg uint8) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.regs[reg]
	return v, ok
}

func (s *SimINA229) Respond(w, r []byte) error {
	if len(w) < 2 || len(r) != len(w) {
		return errcode.New(errcode.InvalidTransfer, "sim.ina229", "short frame")
	}
	addr, read := w[0]>>2, w[0]&0x01 == 1
	clear(r)

	if !read {
		var v uint32
		for _, b := range w[1:] {
			v = v<<8 | uint32(b)
		}
		s.mu.Lock()
		s.regs[addr] = v
		s.mu.Unlock()
		return nil
	}

	var v uint32
	switch addr {
	case ina229.RegMfrID:
		v = ina229.MfrIDTI
	case ina229.RegDeviceID:
		v = ina229.DeviceID229 << 4
	case ina229.RegCurrent:
		code := int32(0)
		if s.Amps != nil && s.LSB > 0 {
			code = int32(math.Round(s.Amps() / s.LSB))
		}
		v = uint32(code) & 0xFFFFFF
	default:
		s.mu.Lock()
		v = s.regs[addr]
		s.mu.Unlock()
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	n := len(r) - 1
	if n > 4 {
		n = 4
	}
	copy(r[len(r)-n:], buf[4-n:])
	return nil
}

// SimOptions places the simulated converter on a host board.
type SimOptions struct {
	Channel int
	VRef    float64
	Divider float64
	InLSB   float64 // CURRENT_LSB of the input sensor
	OutLSB  float64 // CURRENT_LSB of the output sensor
}

// NewSimBoard wires a SimPlant behind a HostBoard: the ADC on HardwareCS0,
// the output current sensor on HardwareCS1 and the input current sensor on
// ManualCS.
func NewSimBoard(cfg BoardConfig, o SimOptions) (*HostBoard, *SimPlant) {
	b := NewHostBoard(cfg)
	plant := NewSimPlant(b.Out)
	plant.Channel = o.Channel
	if o.VRef > 0 {
		plant.VRef = o.VRef
	}
	if o.Divider > 0 {
		plant.Divider = o.Divider
	}
	b.SPI.Respond(spibus.HardwareCS0, plant.ADC)
	b.SPI.Respond(spibus.HardwareCS1, NewSimINA229(plant.Iout, o.OutLSB).Respond)
	b.SPI.Respond(spibus.ManualCS, NewSimINA229(plant.Iin, o.InLSB).Respond)
	return b, plant
}
