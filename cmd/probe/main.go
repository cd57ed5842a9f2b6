// cmd/probe/main.go
//
// Bench check: reads every ADC channel and both current sensors once and
// prints what it saw. The gate driver is never enabled.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"windbuck-go/drivers/ina229"
	"windbuck-go/drivers/mcp3208"
	"windbuck-go/drivers/spibus"
	"windbuck-go/platform"
	"windbuck-go/services/anemometer"
	"windbuck-go/services/config"
)

func main() {
	configFile := flag.String("config", "", "YAML file overlaid on the embedded defaults")
	sim := flag.Bool("sim", false, "probe the simulated converter")
	ports := flag.Bool("ports", false, "list serial ports and exit")
	flag.Parse()

	if *ports {
		if err := listPorts(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	profile := config.DefaultProfile
	if *sim {
		profile = config.SimProfile
	}
	cfg, err := config.Load(profile, *configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := probe(cfg, *sim); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listPorts() error {
	list, err := anemometer.ListPorts()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tSERIAL\tPRODUCT")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%v\t%s:%s\t%s\t%s\n", p.Name, p.USB, p.VID, p.PID, p.Serial, p.Product)
	}
	return w.Flush()
}

func probe(cfg *config.Config, sim bool) (err error) {
	hw, err := platform.Open(cfg.Board(), sim, cfg.SimOptions())
	if err != nil {
		return err
	}
	defer hw.Close()

	cs, err := spibus.NewChipSelect(spibus.ChipSelectConfig{
		Pin:        hw.ChipSelectPin(),
		SetupDelay: cfg.ManualCS.SetupDelay,
		HoldDelay:  cfg.ManualCS.HoldDelay,
	})
	if err != nil {
		return err
	}
	arb := spibus.New(spibus.WithChipSelect(cs))
	if err := arb.Open(hw.Transport()); err != nil {
		return err
	}
	defer arb.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	adc := mcp3208.New(arb.Channel(spibus.HardwareCS0))
	fmt.Fprintln(w, "ADC\tRAW\tVOLTS")
	for ch := 0; ch <= mcp3208.MaxChannel; ch++ {
		raw, err := adc.ReadRaw(ch)
		if err != nil {
			return fmt.Errorf("adc ch%d: %w", ch, err)
		}
		fmt.Fprintf(w, "ch%d\t%d\t%.4f\n", ch, raw, mcp3208.ToVolts(raw, cfg.ADC.VRef))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SENSOR\tCHANNEL\tMFR\tDEVICE\tOK\tCURRENT_A\tVBUS_RAW")
	for _, s := range []struct {
		name string
		sel  spibus.Selector
		cfg  config.INA
	}{{"ina_in", spibus.ManualCS, cfg.INAIn}, {"ina_out", spibus.HardwareCS1, cfg.INAOut}} {
		if !s.cfg.Enabled {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\n", s.name, s.sel)
			continue
		}
		dev := ina229.New(arb.Channel(s.sel))
		mfr, id, ok, err := dev.Identify()
		if err != nil {
			return fmt.Errorf("%s identify: %w", s.name, err)
		}
		if err := dev.Configure(s.cfg.Calibration()); err != nil {
			return fmt.Errorf("%s configure: %w", s.name, err)
		}
		amps, err := dev.ReadCurrentAmps()
		if err != nil {
			return fmt.Errorf("%s current: %w", s.name, err)
		}
		vbus, err := dev.ReadRegister24(ina229.RegVBus)
		if err != nil {
			return fmt.Errorf("%s vbus: %w", s.name, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%#04x\t%#04x\t%v\t%.4f\t%d\n", s.name, s.sel, mfr, id, ok, amps, vbus)
	}
	return nil
}
