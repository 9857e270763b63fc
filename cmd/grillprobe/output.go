package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/grillprobe/internal/alerter"
	"github.com/srg/grillprobe/internal/device"
	"github.com/srg/grillprobe/internal/probe"
	"github.com/srg/grillprobe/internal/store"
	"golang.org/x/term"
)

// printer writes human readable output, colored when w is a terminal
type printer struct {
	w io.Writer

	alert *color.Color
	warn  *color.Color
	ok    *color.Color
	faint *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:     w,
		alert: color.New(color.FgRed, color.Bold),
		warn:  color.New(color.FgYellow),
		ok:    color.New(color.FgGreen),
		faint: color.New(color.Faint),
	}
	if !isTerminal(w) {
		for _, c := range []*color.Color{p.alert, p.warn, p.ok, p.faint} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) errorf(format string, args ...any) {
	p.warn.Fprintf(p.w, format+"\n", args...)
}

// devices prints discovered devices in discovery order
func (p *printer) devices(devs []device.DiscoveredDevice) {
	if len(devs) == 0 {
		p.printf("No probes found.\n")
		return
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, d := range devs {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", d.ID, name, d.RSSI)
	}
	w.Flush()
	p.printf("\nFound %d probe(s)\n", len(devs))
}

// probes prints the registered probe settings
func (p *printer) probes(list []store.Probe) {
	if len(list) == 0 {
		p.printf("No probes registered.\n")
		return
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROBE TARGET\tGRILL TARGET\tUPDATED")
	for _, pr := range list {
		fmt.Fprintf(w, "%s\t%s\t%.1f°C\t%.1f°C\t%s\n",
			pr.ID, pr.Name, pr.ProbeTarget, pr.GrillTarget, pr.UpdatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
}

func (p *printer) connected(s probe.Snapshot, name string) {
	p.ok.Fprintf(p.w, "Connected to %s (%s)\n", name, s.ID)
	if s.ManufacturerName != nil || s.ModelNumber != nil {
		p.faint.Fprintf(p.w, "  %s %s, firmware %s\n",
			deref(s.ManufacturerName), deref(s.ModelNumber), deref(s.FirmwareRevision))
	}
}

func (p *printer) disconnected(id device.ID, name string) {
	p.printf("Disconnected from %s (%s)\n", name, id)
}

// reading prints one line with both temperatures against their targets
func (p *printer) reading(s probe.Snapshot, name string, targets *alerter.Targets) {
	line := fmt.Sprintf("%s  %-20s probe %s  grill %s",
		time.Now().Format(time.TimeOnly), name,
		formatTemperature(s.ProbeTemperature, targets, alerter.MeasurementProbe),
		formatTemperature(s.GrillTemperature, targets, alerter.MeasurementGrill))

	switch {
	case s.State != probe.StateConnected:
		p.faint.Fprintf(p.w, "%s  [%s]\n", line, s.State)
	case s.Battery != nil && *s.Battery == probe.BatteryLow:
		p.printf("%s  ", line)
		p.warn.Fprintf(p.w, "[battery low]\n")
	default:
		p.printf("%s\n", line)
	}
}

func (p *printer) alertLine(a alerter.Alert) {
	p.alert.Fprintf(p.w, "ALERT %s: %s\n", a.Title(), a.Body())
}

func formatTemperature(v *float64, targets *alerter.Targets, m alerter.Measurement) string {
	value := "--.-°C"
	if v != nil {
		value = fmt.Sprintf("%.1f°C", *v)
	}
	if targets == nil {
		return value
	}
	return fmt.Sprintf("%s / %.0f°C", value, targets.For(m))
}

func deref(s *string) string {
	if s == nil {
		return "?"
	}
	return *s
}
