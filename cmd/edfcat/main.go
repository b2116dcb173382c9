// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 The edf-reader authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// edfcat inspects and exports EDF/EDF+/BDF recordings from local files
// or Range-capable URLs.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"gopkg.in/yaml.v3"

	edf "github.com/epicurrents/edf-reader"
)

var version = "dev"

var cli struct {
	Info        InfoCmd        `cmd:"" help:"Show recording header details."`
	Annotations AnnotationsCmd `cmd:"" help:"List annotations in a time range."`
	Gaps        GapsCmd        `cmd:"" help:"List data gaps of a discontinuous recording."`
	Signals     SignalsCmd     `cmd:"" help:"Dump physical samples as CSV."`
	Export      ExportCmd      `cmd:"" help:"Export signals and annotations to InfluxDB."`

	Verbose bool             `short:"v" help:"Enable debug logging."`
	Version kong.VersionFlag `help:"Show version and exit."`
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5FAFFF"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFA500"))
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("edfcat"),
		kong.Description("Inspect and export EDF/EDF+/BDF biosignal recordings."),
		kong.Vars{"version": version},
		kong.UsageOnError(),
	)

	level := slog.LevelWarn
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx.FatalIfErrorf(ctx.Run(logger))
}

// openReader opens input as a URL or a local file.
func openReader(input string, log *slog.Logger) (*edf.Reader, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return edf.OpenURL(input, edf.WithLogger(log))
	}
	return edf.OpenFile(input, edf.WithLogger(log))
}

// sweep caches the whole recording so gaps and annotations are known.
func sweep(r *edf.Reader) error {
	done, err := r.CacheSignals(0, nil)
	if err != nil {
		return err
	}
	<-done
	return nil
}

type InfoCmd struct {
	Input string `arg:"" help:"Recording path or URL."`
}

func (c *InfoCmd) Run(log *slog.Logger) error {
	r, err := openReader(c.Input, log)
	if err != nil {
		return err
	}
	defer r.Release()
	hdr := r.Header()

	fmt.Println(titleStyle.Render(c.Input))
	row := func(key, value string) {
		fmt.Printf("%s %s\n", keyStyle.Render(fmt.Sprintf("%-16s", key)), valueStyle.Render(value))
	}
	row("Format", hdr.Format.String())
	row("Patient", hdr.PatientID)
	row("Recording", hdr.RecordingID)
	if hdr.StartTime != nil {
		row("Start time", hdr.StartTime.Format(time.DateTime))
	} else {
		row("Start time", warnStyle.Render("unparseable"))
	}
	row("Data records", fmt.Sprintf("%s x %gs", humanize.Comma(int64(hdr.DataRecords)), hdr.RecordDuration))
	row("Data length", formatSeconds(r.DataLength()))
	if hdr.Discontinuous {
		row("Recording length", formatSeconds(r.TotalLength())+warnStyle.Render(" (discontinuous)"))
	}
	row("Record size", humanize.Bytes(uint64(hdr.RecordSize())))
	row("Total size", humanize.Bytes(uint64(hdr.HeaderBytes+hdr.DataRecords*hdr.RecordSize())))

	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Signals (%d)", hdr.SignalCount)))
	for i, sig := range hdr.Signals {
		kind := fmt.Sprintf("%g Hz", sig.SamplingRate(hdr.RecordDuration))
		if sig.Annotation {
			kind = "annotations"
		}
		fmt.Printf("%s %s %s\n",
			keyStyle.Render(fmt.Sprintf("%3d", i)),
			valueStyle.Render(fmt.Sprintf("%-18s", sig.Label)),
			keyStyle.Render(fmt.Sprintf("%s  %s  [%g, %g] %s",
				kind, sig.PhysicalDimension, sig.PhysicalMin, sig.PhysicalMax, sig.Prefiltering)))
	}
	return nil
}

type AnnotationsCmd struct {
	Input string  `arg:"" help:"Recording path or URL."`
	From  float64 `help:"Range start in seconds." default:"0"`
	To    float64 `help:"Range end in seconds; 0 means end of recording."`
}

func (c *AnnotationsCmd) Run(log *slog.Logger) error {
	r, err := openReader(c.Input, log)
	if err != nil {
		return err
	}
	defer r.Release()
	if err := sweep(r); err != nil {
		return err
	}

	to := c.To
	if to <= 0 {
		to = r.TotalLength()
	}
	annotations, err := r.Annotations(c.From, to)
	if err != nil {
		return err
	}
	for _, a := range annotations {
		fmt.Printf("%s %s %s\n",
			valueStyle.Render(fmt.Sprintf("%10.3fs", a.Start)),
			keyStyle.Render(fmt.Sprintf("%7.3fs", a.Duration)),
			a.Label)
	}
	fmt.Fprintf(os.Stderr, "%s annotations\n", humanize.Comma(int64(len(annotations))))
	return nil
}

type GapsCmd struct {
	Input string `arg:"" help:"Recording path or URL."`
}

func (c *GapsCmd) Run(log *slog.Logger) error {
	r, err := openReader(c.Input, log)
	if err != nil {
		return err
	}
	defer r.Release()
	if err := sweep(r); err != nil {
		return err
	}

	gaps, err := r.DataGaps(0, r.TotalLength())
	if err != nil {
		return err
	}
	for _, g := range gaps {
		fmt.Printf("%10.3fs  %.3fs\n", g.Start, g.Duration)
	}
	fmt.Fprintf(os.Stderr, "%s gaps, %s of recording\n",
		humanize.Comma(int64(len(gaps))), formatSeconds(r.TotalLength()))
	return nil
}

type SignalsCmd struct {
	Input    string  `arg:"" help:"Recording path or URL."`
	From     float64 `help:"Range start in seconds." default:"0"`
	To       float64 `help:"Range end in seconds." required:""`
	Channels []int   `help:"Channel indexes to include; all by default."`
}

func (c *SignalsCmd) Run(log *slog.Logger) error {
	r, err := openReader(c.Input, log)
	if err != nil {
		return err
	}
	defer r.Release()

	var filter *edf.ChannelFilter
	if len(c.Channels) > 0 {
		filter = &edf.ChannelFilter{Include: c.Channels}
	}
	data, err := r.GetSignals(c.From, c.To, filter)
	if err != nil {
		return err
	}

	hdr := r.Header()
	channels := make([]int, 0, len(data.Signals))
	rows := 0
	for ch, samples := range data.Signals {
		channels = append(channels, ch)
		if len(samples) > rows {
			rows = len(samples)
		}
	}
	sort.Ints(channels)
	if len(channels) == 0 {
		return fmt.Errorf("no channels matched the filter")
	}

	labels := make([]string, 0, len(channels))
	for _, ch := range channels {
		labels = append(labels, hdr.Signals[ch].Label)
	}
	fmt.Printf("time,%s\n", strings.Join(labels, ","))

	baseRate := hdr.Signals[channels[0]].SamplingRate(hdr.RecordDuration)
	for i := 0; i < rows; i++ {
		cols := make([]string, 0, len(channels)+1)
		cols = append(cols, fmt.Sprintf("%.6f", c.From+float64(i)/baseRate))
		for _, ch := range channels {
			samples := data.Signals[ch]
			if i < len(samples) {
				cols = append(cols, fmt.Sprintf("%g", samples[i]))
			} else {
				cols = append(cols, "")
			}
		}
		fmt.Println(strings.Join(cols, ","))
	}
	return nil
}

// InfluxConfig is the YAML export target configuration.
type InfluxConfig struct {
	Host        string
	AuthToken   string `yaml:"auth_token"`
	Org         string
	Bucket      string
	Measurement string
}

type ExportCmd struct {
	Input  string `arg:"" help:"Recording path or URL."`
	Config string `help:"YAML config with the InfluxDB target." default:"edfcat.yaml"`
	DryRun bool   `help:"Parse and count but do not write."`
}

func (c *ExportCmd) Run(log *slog.Logger) error {
	cfg, err := readConfig(c.Config)
	if err != nil {
		return err
	}

	r, err := openReader(c.Input, log)
	if err != nil {
		return err
	}
	defer r.Release()
	if err := sweep(r); err != nil {
		return err
	}

	hdr := r.Header()
	base := time.UnixMilli(0)
	if hdr.StartTime != nil {
		base = *hdr.StartTime
	}

	data, err := r.GetSignals(0, r.TotalLength(), nil)
	if err != nil {
		return err
	}

	client := influxdb2.NewClient(cfg.Host, cfg.AuthToken)
	defer client.Close()
	api := client.WriteAPI(cfg.Org, cfg.Bucket)

	points := 0
	for ch, samples := range data.Signals {
		sig := hdr.Signals[ch]
		rate := sig.SamplingRate(hdr.RecordDuration)
		name := strings.ReplaceAll(strings.TrimSpace(sig.Label), ".", "_")
		for i, value := range samples {
			if c.DryRun {
				points++
				continue
			}
			ts := base.Add(time.Duration(float64(i) / rate * float64(time.Second)))
			api.WritePoint(influxdb2.NewPointWithMeasurement(cfg.Measurement).
				AddField(name, value).
				SetTime(ts))
			points++
		}
	}
	for _, a := range data.Annotations {
		if c.DryRun {
			continue
		}
		ts := base.Add(time.Duration(a.Start * float64(time.Second)))
		api.WritePoint(influxdb2.NewPointWithMeasurement(cfg.Measurement).
			AddTag("event", a.Label).
			AddField("annotation", 1).
			SetTime(ts))
	}
	if !c.DryRun {
		api.Flush()
	}

	fmt.Fprintf(os.Stderr, "Exported %s sample points and %s annotations from %s of recording.\n",
		humanize.Comma(int64(points)), humanize.Comma(int64(len(data.Annotations))),
		formatSeconds(r.TotalLength()))
	return nil
}

func readConfig(path string) (InfluxConfig, error) {
	cfg := InfluxConfig{Measurement: "edf"}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "edf"
	}
	return cfg, nil
}

func formatSeconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond).String()
}
