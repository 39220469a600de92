package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"

	"github.com/quernar/refqueue/internal/testbench"
	"github.com/quernar/refqueue/pkg/refqueue"
)

// BenchmarkResult holds results for one test run.
type BenchmarkResult struct {
	Implementation      string  `json:"implementation"`
	Mode                string  `json:"mode"` // "queue" or "pool"
	Capacity            int     `json:"capacity"`
	NumProducers        int     `json:"num_producers,omitempty"`
	NumConsumers        int     `json:"num_consumers,omitempty"`
	NumWorkers          int     `json:"num_workers,omitempty"` // pool mode
	NumMessages         int64   `json:"num_messages"`          // produced count
	NumMessagesConsumed int64   `json:"num_messages_consumed"` // consumed count
	TestDuration        string  `json:"test_duration"`         // e.g. "5s"
	ActualElapsed       string  `json:"actual_elapsed"`        // measured time
	Throughput          float64 `json:"throughput_msgs_sec"`   // based on consumed count
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

// testQueueInterface is the contract every benched construction mode obeys.
type testQueueInterface = interface {
	Push(*int) error
	Pop(wait bool) (*int, error)
	Len() (int, error)
	Cap() int
	Destroy() error
}

// Implementation represents one queue construction mode under test.
type Implementation struct {
	name        string
	pkgName     string
	description string
	features    []string
	newQueue    func(capacity int) testQueueInterface
}

// scenario is the YAML-configurable shape of a bench session.
type scenario struct {
	Iterations  int    `yaml:"iterations"`
	Duration    string `yaml:"duration"`
	Capacities  []int  `yaml:"capacities"`
	Concurrency []struct {
		Producers int `yaml:"producers"`
		Consumers int `yaml:"consumers"`
	} `yaml:"concurrency"`
	PoolWorkers    []int `yaml:"pool_workers"`
	PoolObjectSize int   `yaml:"pool_object_size"`
}

func defaultScenario() scenario {
	return scenario{
		Iterations: 5,
		Duration:   "5s",
		Capacities: []int{16, 1024},
		Concurrency: []struct {
			Producers int `yaml:"producers"`
			Consumers int `yaml:"consumers"`
		}{
			{Producers: 1, Consumers: 1},
			{Producers: 2, Consumers: 2},
			{Producers: 10, Consumers: 10},
			{Producers: 50, Consumers: 50},
		},
		PoolWorkers:    []int{1, 4, 16},
		PoolObjectSize: 64,
	}
}

// loadScenario reads the YAML scenario file, falling back to defaults when
// the file does not exist.
func loadScenario(path string) (scenario, error) {
	sc := defaultScenario()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sc, nil
		}
		return sc, fmt.Errorf("reading scenario file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parsing scenario file %q: %w", path, err)
	}
	return sc, nil
}

// outputMarkdownTable loads the JSON file and outputs a Markdown table.
func outputMarkdownTable(jsonFile string) {
	data, err := os.ReadFile(jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file %q: %v\n", jsonFile, err)
		os.Exit(1)
	}
	var sessions []FullReport
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshalling JSON: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stderr, "No sessions found in JSON.")
		os.Exit(1)
	}
	// Use the last session for the table.
	lastSession := sessions[len(sessions)-1]
	implMetaMap := make(map[string]Implementation)
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}
	type tableRow struct {
		implementation string
		mode           string
		capacity       int
		features       string
		throughput     float64
	}
	var rows []tableRow
	for _, bench := range lastSession.Benchmarks {
		meta := implMetaMap[bench.Implementation]
		rows = append(rows, tableRow{
			implementation: bench.Implementation,
			mode:           bench.Mode,
			capacity:       bench.Capacity,
			features:       strings.Join(meta.features, ", "),
			throughput:     bench.Throughput,
		})
	}
	// Sort rows by throughput descending.
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].throughput > rows[j].throughput
	})
	fmt.Println("## Last Session Benchmark Summary")
	fmt.Println()
	fmt.Println("| Implementation           | Mode   | Capacity | Features                    | Throughput (msgs/sec) |")
	fmt.Println("|--------------------------|--------|----------|-----------------------------|-----------------------|")
	for _, r := range rows {
		fmt.Printf("| %-24s | %-6s | %8d | %-27s | %21.0f |\n",
			r.implementation, r.mode, r.capacity, r.features, r.throughput)
	}
}

func main() {
	// Flags.
	testIterations := flag.Int("iter", 0, "Override the number of test iterations per concurrency setting")
	cpuMaxFlag := flag.Int("cpu", 0, "If non-zero, test only that GOMAXPROCS value; if 0, test common CPU/vCPU values up to runtime.NumCPU()")
	jsonExport := flag.Bool("json", false, "Export results as JSON to test-results.json")
	markdownTable := flag.Bool("markdown-table", false, "Output markdown table from test-results.json and exit")
	jsonFileForMarkdown := flag.String("jsonfile", "test-results.json", "Path to JSON file for markdown table")
	scenarioFile := flag.String("scenario", "bench.yaml", "Path to YAML scenario file (defaults are used if absent)")
	progressFlag := flag.Bool("progress", false, "Display a progress bar with ETA")
	demoFlag := flag.Bool("demo", false, "Run the interactive fill/empty/iterate/threads demo and exit")
	flag.Parse()

	if *markdownTable {
		outputMarkdownTable(*jsonFileForMarkdown)
		return
	}
	if *demoFlag {
		runDemo(os.Stdout)
		return
	}

	sc, err := loadScenario(*scenarioFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *testIterations > 0 {
		sc.Iterations = *testIterations
	}
	testDuration, err := time.ParseDuration(sc.Duration)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid scenario duration %q: %v\n", sc.Duration, err)
		os.Exit(1)
	}

	trueCpuCount := runtime.NumCPU()
	var cpuSettings []int
	// Common CPU/vCPU settings.
	commonCPUs := []int{1, 2, 3, 4, 6, 8, 12, 16, 32, 48, 56, 64, 96, 128, 192, 256}

	if *cpuMaxFlag > 0 {
		desired := *cpuMaxFlag
		if desired > trueCpuCount {
			desired = trueCpuCount
		}
		cpuSettings = []int{desired}
	} else {
		for _, v := range commonCPUs {
			if v <= trueCpuCount {
				cpuSettings = append(cpuSettings, v)
			}
		}
	}

	impls := getImplementations()
	totalTests := len(cpuSettings) * len(sc.Capacities) *
		(len(sc.Concurrency)*len(impls) + len(sc.PoolWorkers)) * sc.Iterations

	var bar *progressbar.ProgressBar
	if *progressFlag {
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("bench"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
		)
	}
	advance := func() {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	var allSessions []FullReport

	// Iterate over the desired GOMAXPROCS settings.
	for _, cpus := range cpuSettings {
		runtime.GOMAXPROCS(cpus)
		sysInfo := gatherSystemInfo()
		sysInfo.NumCPU = cpus
		sysInfo.TrueCPU = trueCpuCount
		sysInfo.SimulatedCPUCount = cpus

		fmt.Printf("\n=============================\n")
		fmt.Printf("GOMAXPROCS = %d\n", cpus)
		fmt.Printf("=============================\n")

		var results []BenchmarkResult

		for _, capacity := range sc.Capacities {
			fmt.Printf("  [Capacity: %d]\n", capacity)
			for _, cc := range sc.Concurrency {
				cfg := testbench.Config{NumProducers: cc.Producers, NumConsumers: cc.Consumers}
				fmt.Printf("  [Concurrency: producers=%d, consumers=%d]\n", cfg.NumProducers, cfg.NumConsumers)
				for iteration := 1; iteration <= sc.Iterations; iteration++ {
					fmt.Printf("    iteration %d/%d\n", iteration, sc.Iterations)
					for _, impl := range impls {
						runtime.GC()
						q := impl.newQueue(capacity)
						time.Sleep(250 * time.Millisecond)

						produced, consumed, actualTime := testbench.RunTimedTest(
							q,
							cfg,
							testDuration,
							func(i int) *int {
								v := i
								return &v
							},
						)
						throughput := float64(consumed) / actualTime.Seconds()

						if err := q.Destroy(); err != nil {
							fmt.Fprintln(os.Stderr, "Error destroying queue:", err)
							os.Exit(1)
						}

						fmt.Printf("    %s => produced=%d, consumed=%d, throughput=%.0f msg/s, took=%v\n",
							impl.name, produced, consumed, throughput, actualTime)
						advance()

						results = append(results, BenchmarkResult{
							Implementation:      impl.name,
							Mode:                "queue",
							Capacity:            capacity,
							NumProducers:        cfg.NumProducers,
							NumConsumers:        cfg.NumConsumers,
							NumMessages:         produced,
							NumMessagesConsumed: consumed,
							TestDuration:        testDuration.String(),
							ActualElapsed:       actualTime.String(),
							Throughput:          throughput,
							Timestamp:           time.Now().Unix(),
							GoVersion:           runtime.Version(),
						})
					}
				}
			}

			for _, workers := range sc.PoolWorkers {
				fmt.Printf("  [Pool: workers=%d, objSize=%d]\n", workers, sc.PoolObjectSize)
				for iteration := 1; iteration <= sc.Iterations; iteration++ {
					runtime.GC()
					pool, err := refqueue.NewPool(capacity, sc.PoolObjectSize)
					if err != nil {
						fmt.Fprintln(os.Stderr, "Error constructing pool:", err)
						os.Exit(1)
					}
					time.Sleep(250 * time.Millisecond)

					cycles, actualTime := testbench.RunPoolCycleTest[[]byte](pool, workers, testDuration)
					throughput := float64(cycles) / actualTime.Seconds()

					if err := pool.Destroy(); err != nil {
						fmt.Fprintln(os.Stderr, "Error destroying pool:", err)
						os.Exit(1)
					}

					fmt.Printf("    RefQueue (pool) => cycles=%d, throughput=%.0f cycles/s, took=%v\n",
						cycles, throughput, actualTime)
					advance()

					results = append(results, BenchmarkResult{
						Implementation:      "RefQueue",
						Mode:                "pool",
						Capacity:            capacity,
						NumWorkers:          workers,
						NumMessages:         cycles,
						NumMessagesConsumed: cycles,
						TestDuration:        testDuration.String(),
						ActualElapsed:       actualTime.String(),
						Throughput:          throughput,
						Timestamp:           time.Now().Unix(),
						GoVersion:           runtime.Version(),
					})
				}
			}
		}

		allSessions = append(allSessions, FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sysInfo,
			Benchmarks:  results,
		})
	}

	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	// If JSON export is requested, append the new sessions to test-results.json.
	if *jsonExport {
		const filename = "test-results.json"
		var previous []FullReport
		if _, err := os.Stat(filename); err == nil {
			data, err := os.ReadFile(filename)
			if err == nil && len(data) > 0 {
				json.Unmarshal(data, &previous)
			}
		}
		updated := append(previous, allSessions...)
		data, err := json.MarshalIndent(updated, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error marshalling JSON:", err)
			os.Exit(1)
		}
		if err = os.WriteFile(filename, data, 0644); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing JSON file:", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote results to %s\n", filename)
	}
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() SystemInfo {
	numCPU := runtime.NumCPU()
	goArch := runtime.GOARCH

	var cpuModel string
	var cpuSpeed float64
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
		cpuSpeed = infos[0].Mhz
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	return SystemInfo{
		NumCPU:      numCPU,
		CPUModel:    cpuModel,
		CPUSpeedMHz: cpuSpeed,
		GOARCH:      goArch,
		TotalMemory: totalMemory,
	}
}

// getImplementations enumerates the queue construction modes under test.
func getImplementations() []Implementation {
	return []Implementation{
		{
			name:        "RefQueue",
			pkgName:     "refqueue",
			description: "Bounded reference queue: capacity+1 ring, one mutex, one condition variable.",
			features:    []string{"MPMC", "FIFO", "Bounded", "Blocking-Pop"},
			newQueue: func(capacity int) testQueueInterface {
				q, err := refqueue.New[*int](capacity)
				if err != nil {
					panic(err)
				}
				return q
			},
		},
	}
}
