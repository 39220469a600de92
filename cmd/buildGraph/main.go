package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image/color"
	"os"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// BenchmarkResult mirrors the bench tool's result schema.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	Mode                string  `json:"mode"`
	Capacity            int     `json:"capacity"`
	NumProducers        int     `json:"num_producers,omitempty"`
	NumConsumers        int     `json:"num_consumers,omitempty"`
	NumWorkers          int     `json:"num_workers,omitempty"`
	NumMessages         int64   `json:"num_messages"`
	NumMessagesConsumed int64   `json:"num_messages_consumed"`
	TestDuration        string  `json:"test_duration"`
	ActualElapsed       string  `json:"actual_elapsed"`
	Throughput          float64 `json:"throughput_msgs_sec"`
	Timestamp           int64   `json:"timestamp"`
	GoVersion           string  `json:"go_version"`
}

// SystemInfo holds system information.
type SystemInfo struct {
	NumCPU            int     `json:"num_cpu"`
	TrueCPU           int     `json:"true_cpu,omitempty"`
	SimulatedCPUCount int     `json:"simulated_cpu_count,omitempty"`
	CPUModel          string  `json:"cpu_model,omitempty"`
	CPUSpeedMHz       float64 `json:"cpu_speed_mhz,omitempty"`
	GOARCH            string  `json:"go_arch"`
	TotalMemory       uint64  `json:"total_memory_bytes,omitempty"`
}

// FullReport represents a complete test session.
type FullReport struct {
	SessionTime string            `json:"session_time"`
	SystemInfo  SystemInfo        `json:"system_info"`
	Benchmarks  []BenchmarkResult `json:"benchmarks"`
}

// seriesStats holds min, median, and max latency per concurrency level.
type seriesStats struct {
	x      float64 // category index on the plot
	orig   float64 // original concurrency value
	min    float64
	median float64
	max    float64
}

// statsPoints implements XYer and YErrorer so we can plot lines + error bars.
type statsPoints []seriesStats

func (s statsPoints) Len() int                { return len(s) }
func (s statsPoints) XY(i int) (x, y float64) { return s[i].x, s[i].median }
func (s statsPoints) YError(i int) (low, high float64) {
	return s[i].median - s[i].min, s[i].max - s[i].median
}

// categoryTicks implements a categorical X-axis: 0,1,2,... => concurrency labels.
type categoryTicks struct {
	positions []float64
	labels    []string
}

func (ct categoryTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for i, pos := range ct.positions {
		if pos >= min && pos <= max {
			ticks = append(ticks, plot.Tick{Value: pos, Label: ct.labels[i]})
		}
	}
	return ticks
}

// seriesKey identifies one line on the plot: construction mode plus capacity.
func seriesKey(b BenchmarkResult) string {
	return fmt.Sprintf("%s %s cap=%d", b.Implementation, b.Mode, b.Capacity)
}

// concurrencyOf is the X value of a result: total goroutines hammering the queue.
func concurrencyOf(b BenchmarkResult) float64 {
	if b.Mode == "pool" {
		return float64(b.NumWorkers)
	}
	return float64(b.NumProducers + b.NumConsumers)
}

func main() {
	jsonFile := flag.String("jsonfile", "test-results.json", "Path to JSON file containing test sessions")
	outputPrefix := flag.String("out", "benchmark_graph", "Output graph image filename prefix")
	flag.Parse()

	data, err := os.ReadFile(*jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file: %v\n", err)
		os.Exit(1)
	}

	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshalling JSON: %v\n", err)
		os.Exit(1)
	}

	// Group data by CPU count -> series -> concurrency -> ns/msg samples.
	pointsByCPU := make(map[int]map[string]map[float64][]float64)

	for _, session := range sessions {
		cpus := session.SystemInfo.SimulatedCPUCount
		if cpus == 0 {
			cpus = session.SystemInfo.NumCPU
		}
		if _, ok := pointsByCPU[cpus]; !ok {
			pointsByCPU[cpus] = make(map[string]map[float64][]float64)
		}

		for _, b := range session.Benchmarks {
			dur, err := time.ParseDuration(b.ActualElapsed)
			if err != nil || b.NumMessagesConsumed == 0 {
				continue
			}
			nsPerMsg := float64(dur.Nanoseconds()) / float64(b.NumMessagesConsumed)

			key := seriesKey(b)
			seriesMap := pointsByCPU[cpus]
			if _, ok := seriesMap[key]; !ok {
				seriesMap[key] = make(map[float64][]float64)
			}
			x := concurrencyOf(b)
			seriesMap[key][x] = append(seriesMap[key][x], nsPerMsg)
		}
	}

	for cpus, seriesMap := range pointsByCPU {
		if err := renderPlot(cpus, seriesMap, *outputPrefix); err != nil {
			fmt.Fprintf(os.Stderr, "Error rendering plot for %d CPU(s): %v\n", cpus, err)
		}
	}
}

func renderPlot(cpus int, seriesMap map[string]map[float64][]float64, outputPrefix string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Latency (min / median / max) vs. Concurrency for %d CPU(s)", cpus)
	p.X.Label.Text = "Goroutines on the queue"
	p.Y.Label.Text = "Time per Msg (ns)"

	// Dark theme.
	p.BackgroundColor = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	p.Title.TextStyle.Color = white
	p.X.Label.TextStyle.Color = white
	p.Y.Label.TextStyle.Color = white
	p.X.Color = white
	p.Y.Color = white
	p.X.Tick.Label.Color = white
	p.Y.Tick.Label.Color = white
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.TextStyle.Color = white

	p.Y.Tick.Marker = plot.TickerFunc(func(min, max float64) []plot.Tick {
		lt := plot.DefaultTicks{}
		ticks := lt.Ticks(min, max)
		for i := range ticks {
			if ticks[i].Label != "" {
				ticks[i].Label = formatNs(ticks[i].Value)
			}
		}
		return ticks
	})

	p.Add(plotter.NewGrid())

	// Build the union of concurrency values for this CPU group.
	concurrencySet := make(map[float64]struct{})
	for _, seriesData := range seriesMap {
		for conc := range seriesData {
			concurrencySet[conc] = struct{}{}
		}
	}
	var concValues []float64
	for val := range concurrencySet {
		concValues = append(concValues, val)
	}
	sort.Float64s(concValues)

	// Map concurrency => category index.
	concMapping := make(map[float64]float64)
	var positions []float64
	var labels []string
	for i, val := range concValues {
		concMapping[val] = float64(i)
		positions = append(positions, float64(i))
		labels = append(labels, strconv.FormatFloat(val, 'f', -1, 64))
	}
	p.X.Tick.Marker = categoryTicks{positions: positions, labels: labels}

	// Sort series alphabetically for consistent legend ordering.
	var names []string
	for name := range seriesMap {
		names = append(names, name)
	}
	sort.Strings(names)

	colors := plotutil.SoftColors
	shapes := []draw.GlyphDrawer{
		draw.CircleGlyph{},
		draw.SquareGlyph{},
		draw.TriangleGlyph{},
		draw.CrossGlyph{},
		draw.PlusGlyph{},
	}

	// Slight offset so each series is visually separated.
	offsetRange := 0.4
	offsetStep := offsetRange / float64(len(names))
	startOffset := -offsetRange/2 + offsetStep/2

	for i, name := range names {
		stats := buildStats(seriesMap[name])
		if len(stats) == 0 {
			continue
		}
		for j := range stats {
			baseX := concMapping[stats[j].orig]
			stats[j].x = baseX + startOffset + float64(i)*offsetStep
		}
		sort.Slice(stats, func(a, b int) bool {
			return stats[a].x < stats[b].x
		})
		sp := statsPoints(stats)

		line, err := plotter.NewLine(sp)
		if err != nil {
			return fmt.Errorf("creating line: %w", err)
		}
		line.Color = colors[i%len(colors)]

		points, err := plotter.NewScatter(sp)
		if err != nil {
			return fmt.Errorf("creating scatter: %w", err)
		}
		points.GlyphStyle.Radius = vg.Points(5)
		points.Color = colors[i%len(colors)]
		points.Shape = shapes[i%len(shapes)]

		yErrBars, err := plotter.NewYErrorBars(sp)
		if err != nil {
			return fmt.Errorf("creating error bars: %w", err)
		}
		yErrBars.Color = colors[i%len(colors)]

		p.Add(line, points, yErrBars)
		p.Legend.Add(name, line, points)
	}

	filename := fmt.Sprintf("%s_%d.png", outputPrefix, cpus)
	if err := p.Save(12*vg.Inch, 9*vg.Inch, filename); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	fmt.Printf("Graph for %d CPU(s) saved to %s\n", cpus, filename)
	return nil
}

// buildStats computes min, median, and max per concurrency level.
func buildStats(concurrencyMap map[float64][]float64) []seriesStats {
	var out []seriesStats
	for x, vals := range concurrencyMap {
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		out = append(out, seriesStats{
			x:      x,
			orig:   x,
			min:    vals[0],
			median: median(vals),
			max:    vals[len(vals)-1],
		})
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return 0.5 * (sorted[mid-1] + sorted[mid])
}

// formatNs nicely formats a nanoseconds value in ns, µs, ms, or s.
func formatNs(ns float64) string {
	switch {
	case ns < 1e3:
		return fmt.Sprintf("%.0fns", ns)
	case ns < 1e6:
		return fmt.Sprintf("%.1fµs", ns/1e3)
	case ns < 1e9:
		return fmt.Sprintf("%.1fms", ns/1e6)
	default:
		return fmt.Sprintf("%.2fs", ns/1e9)
	}
}
