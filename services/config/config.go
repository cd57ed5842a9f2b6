package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"windbuck-go/bus"
	"windbuck-go/drivers/ina229"
	"windbuck-go/errcode"
	"windbuck-go/services/buck"
	"windbuck-go/x/mathx"
)

const (
	configPrefix   = "config"
	DefaultProfile = "default"
	SimProfile     = "sim"
)

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

type SPIChannel struct {
	Device string `yaml:"device"`
	Mode   int    `yaml:"mode"`
}

type SPI struct {
	SpeedHz int64      `yaml:"speed_hz"`
	CS0     SPIChannel `yaml:"cs0"`
	CS1     SPIChannel `yaml:"cs1"`
	Manual  SPIChannel `yaml:"manual"`
}

type ManualCS struct {
	Pin        int           `yaml:"pin"`
	SetupDelay time.Duration `yaml:"setup_delay"`
	HoldDelay  time.Duration `yaml:"hold_delay"`
}

type GateDriver struct {
	EnablePin int  `yaml:"enable_pin"`
	ActiveLow bool `yaml:"active_low"`
}

type PWM struct {
	Pin       string `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

type ADC struct {
	Channel int     `yaml:"channel"`
	VRef    float64 `yaml:"vref"`
	Divider float64 `yaml:"divider"` // Vout per ADC volt; 1 reads the pin directly
}

type INA struct {
	Enabled        bool    `yaml:"enabled"`
	ShuntOhms      float64 `yaml:"shunt_ohms"`
	MaxCurrentAmps float64 `yaml:"max_current_amps"`
	CurrentLSB     float64 `yaml:"current_lsb"`
	ADCRange       int     `yaml:"adc_range"`
}

type Control struct {
	Kp         float64           `yaml:"kp"`
	Ki         float64           `yaml:"ki"`
	Period     time.Duration     `yaml:"period"`
	Settle     time.Duration     `yaml:"settle"`
	LockMemory bool              `yaml:"lock_memory"`
	Lookup     []buck.Breakpoint `yaml:"lookup"`
}

type Wind struct {
	Source string        `yaml:"source"` // fixed | serial
	Speed  float64       `yaml:"speed"`
	Port   string        `yaml:"port"`
	Baud   int           `yaml:"baud"`
	MaxAge time.Duration `yaml:"max_age"`
}

type Log struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // text | json
	Output   string `yaml:"output"` // stdout | file
	FilePath string `yaml:"file_path"`
}

type Heartbeat struct {
	Interval time.Duration `yaml:"interval"`
}

type Monitor struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Redis struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Channel string `yaml:"channel"`
	Every   int    `yaml:"every"`
	ListLen int64  `yaml:"list_len"`
}

// Config is the controller's whole configuration.
type Config struct {
	SPI        SPI        `yaml:"spi"`
	ManualCS   ManualCS   `yaml:"manual_cs"`
	GateDriver GateDriver `yaml:"gate_driver"`
	PWM        PWM        `yaml:"pwm"`
	ADC        ADC        `yaml:"adc"`
	INAIn      INA        `yaml:"ina_in"`
	INAOut     INA        `yaml:"ina_out"`
	Control    Control    `yaml:"control"`
	Wind       Wind       `yaml:"wind"`
	Log        Log        `yaml:"log"`
	Heartbeat  Heartbeat  `yaml:"heartbeat"`
	Monitor    Monitor    `yaml:"monitor"`
	Redis      Redis      `yaml:"redis"`
}

// Load decodes the default profile, overlays the named profile and then
// the file at path (if any), and validates the result.
func Load(profile, path string) (*Config, error) {
	const op = "config.load"
	if profile == "" {
		profile = DefaultProfile
	}
	cfg := &Config{}
	layers := []string{DefaultProfile}
	if profile != DefaultProfile {
		layers = append(layers, profile)
	}
	for _, name := range layers {
		raw, ok := EmbeddedConfigLookup(name)
		if !ok || len(raw) == 0 {
			return nil, errcode.New(errcode.Configuration, op, "no embedded config for profile: "+name)
		}
		if err := decode(bytes.NewReader(raw), cfg); err != nil {
			return nil, errcode.Wrap(errcode.Configuration, op, fmt.Errorf("profile %s: %w", name, err))
		}
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errcode.Wrap(errcode.Configuration, op, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, errcode.Wrap(errcode.Configuration, op, fmt.Errorf("%s: %w", path, err))
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays the YAML in r onto cfg. Unknown keys are rejected.
func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func invalid(field, msg string) error {
	return errcode.New(errcode.Configuration, "config."+field, msg)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.SPI.SpeedHz <= 0 {
		return invalid("spi.speed_hz", "must be > 0")
	}
	for _, ch := range []struct {
		name string
		SPIChannel
	}{{"cs0", c.SPI.CS0}, {"cs1", c.SPI.CS1}, {"manual", c.SPI.Manual}} {
		if ch.Device == "" {
			return invalid("spi."+ch.name+".device", "required")
		}
		if !mathx.Between(ch.Mode, 0, 3) {
			return invalid("spi."+ch.name+".mode", "must be 0-3")
		}
	}
	if c.ManualCS.Pin < 0 {
		return invalid("manual_cs.pin", "must be >= 0")
	}
	if c.ManualCS.SetupDelay < 0 || c.ManualCS.HoldDelay < 0 {
		return invalid("manual_cs", "delays must be >= 0")
	}
	if c.GateDriver.EnablePin < 0 {
		return invalid("gate_driver.enable_pin", "must be >= 0")
	}
	if c.PWM.Pin == "" {
		return invalid("pwm.pin", "required")
	}
	if !mathx.Between(c.ADC.Channel, 0, 7) {
		return invalid("adc.channel", "must be 0-7")
	}
	if !(c.ADC.VRef > 0) {
		return invalid("adc.vref", "must be > 0")
	}
	if !(c.ADC.Divider > 0) || math.IsInf(c.ADC.Divider, 0) {
		return invalid("adc.divider", "must be > 0")
	}
	if err := c.INAIn.validate("ina_in"); err != nil {
		return err
	}
	if err := c.INAOut.validate("ina_out"); err != nil {
		return err
	}
	if err := c.Control.validate(); err != nil {
		return err
	}
	if err := c.Wind.validate(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return invalid("log.format", "must be text or json")
	}
	switch c.Log.Output {
	case "", "stdout":
	case "file":
		if c.Log.FilePath == "" {
			return invalid("log.file_path", "required when output is file")
		}
	default:
		return invalid("log.output", "must be stdout or file")
	}
	if c.Heartbeat.Interval <= 0 {
		return invalid("heartbeat.interval", "must be > 0")
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return invalid("monitor.addr", "required when enabled")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return invalid("redis.addr", "required when enabled")
		}
		if c.Redis.Every < 1 {
			return invalid("redis.every", "must be >= 1")
		}
		if c.Redis.ListLen < 0 {
			return invalid("redis.list_len", "must be >= 0")
		}
	}
	return nil
}

func (s INA) validate(name string) error {
	if !s.Enabled {
		return nil
	}
	if !(s.ShuntOhms > 0) || math.IsInf(s.ShuntOhms, 0) {
		return invalid(name+".shunt_ohms", "must be > 0")
	}
	if !(s.CurrentLSB > 0) && !(s.MaxCurrentAmps > 0) {
		return invalid(name, "max_current_amps or current_lsb must be > 0")
	}
	if s.ADCRange != 0 && s.ADCRange != 1 {
		return invalid(name+".adc_range", "must be 0 or 1")
	}
	return nil
}

// Calibration converts the section to the sensor's calibration inputs.
func (s INA) Calibration() ina229.Calibration {
	return ina229.Calibration{
		ShuntOhms:      s.ShuntOhms,
		MaxCurrentAmps: s.MaxCurrentAmps,
		CurrentLSB:     s.CurrentLSB,
		ADCRange:       uint8(s.ADCRange),
	}
}

func (c Control) validate() error {
	if !(c.Kp >= 0) || !(c.Ki >= 0) {
		return invalid("control", "kp and ki must be >= 0")
	}
	if c.Period <= 0 {
		return invalid("control.period", "must be > 0")
	}
	if c.Settle < 0 {
		return invalid("control.settle", "must be >= 0")
	}
	if _, err := buck.NewTable(c.Lookup); err != nil {
		return invalid("control.lookup", err.Error())
	}
	return nil
}

func (w Wind) validate() error {
	switch w.Source {
	case "fixed":
		if w.Speed < 0 || math.IsNaN(w.Speed) {
			return invalid("wind.speed", "must be >= 0")
		}
	case "serial":
		if w.Port == "" {
			return invalid("wind.port", "required for serial source")
		}
		if w.Baud <= 0 {
			return invalid("wind.baud", "must be > 0")
		}
		if w.MaxAge < 0 {
			return invalid("wind.max_age", "must be >= 0")
		}
	default:
		return invalid("wind.source", "must be fixed or serial")
	}
	return nil
}

// Sections returns the top-level sections keyed by their YAML names.
func (c *Config) Sections() map[string]any {
	return map[string]any{
		"spi":         c.SPI,
		"manual_cs":   c.ManualCS,
		"gate_driver": c.GateDriver,
		"pwm":         c.PWM,
		"adc":         c.ADC,
		"ina_in":      c.INAIn,
		"ina_out":     c.INAOut,
		"control":     c.Control,
		"wind":        c.Wind,
		"log":         c.Log,
		"heartbeat":   c.Heartbeat,
		"monitor":     c.Monitor,
		"redis":       c.Redis,
	}
}

// Publish puts every section on the bus as a retained config/<section>
// message.
func Publish(conn *bus.Connection, cfg *Config) {
	for k, v := range cfg.Sections() {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}
}
