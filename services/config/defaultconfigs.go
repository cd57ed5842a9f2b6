package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: profile name (-sim selects "sim")
// Val: raw YAML. Every profile other than "default" is an overlay on
// "default"; a -config file is overlaid last.
// -----------------------------------------------------------------------------

const cfgDefault = `
spi:
  speed_hz: 1000000
  cs0:    {device: SPI0.0, mode: 0}     # MCP3208
  cs1:    {device: SPI0.1, mode: 1}     # INA229, output side
  manual: {device: SPI0.2, mode: 1}     # INA229, input side; node with an unconnected CE
manual_cs:
  pin: 25
  setup_delay: 0s
  hold_delay: 0s
gate_driver:
  enable_pin: 6
  active_low: false
pwm:
  pin: GPIO12
  active_low: false
adc:
  channel: 0
  vref: 5.0
  divider: 1
ina_in:
  enabled: true
  shunt_ohms: 0.001
  max_current_amps: 20
  adc_range: 0
ina_out:
  enabled: true
  shunt_ohms: 0.001
  max_current_amps: 20
  adc_range: 0
control:
  kp: 0.35
  ki: 0.01
  period: 1ms
  settle: 100ms
  lock_memory: true
  lookup:
    - {speed: 5,  voltage: 50}
    - {speed: 10, voltage: 55}
    - {speed: 15, voltage: 60}
    - {speed: 20, voltage: 65}
wind:
  source: fixed
  speed: 10
  baud: 9600
  max_age: 5s
log:
  level: info
  format: text
  output: stdout
heartbeat:
  interval: 5s
monitor:
  enabled: true
  addr: ":9105"
redis:
  enabled: false
  addr: localhost:6379
  db: 0
  channel: buck:samples
  every: 100
  list_len: 10000
`

const cfgSim = `
adc:
  divider: 20
control:
  settle: 10ms
  lock_memory: false
wind:
  source: fixed
  speed: 12.5
`

var embeddedConfigs = map[string][]byte{
	DefaultProfile: []byte(cfgDefault),
	SimProfile:     []byte(cfgSim),
}
