// Package diagnostics implements environment health checks for the
// doctor command: host resources, store reachability, and judge
// provider connectivity.
package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/apm-labs/apm/internal/core"
)

// Status classifies a check outcome.
type Status string

const (
	StatusOK   Status = "ok"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// CheckResult is one doctor check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Pinger is a judge-like collaborator with a reachability probe.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// StoreChecker verifies the run store answers queries.
type StoreChecker interface {
	List(ctx context.Context, filter core.RunFilter) ([]*core.EvaluationRun, error)
}

// Doctor runs environment checks.
type Doctor struct {
	store      StoreChecker
	judges     []Pinger
	storePath  string
	memWarnPct float64
	dskWarnPct float64
}

// Option configures a Doctor.
type Option func(*Doctor)

// WithStore adds a run store reachability check.
func WithStore(store StoreChecker, path string) Option {
	return func(d *Doctor) {
		d.store = store
		d.storePath = path
	}
}

// WithJudges adds a reachability check per judge provider.
func WithJudges(judges ...Pinger) Option {
	return func(d *Doctor) {
		d.judges = append(d.judges, judges...)
	}
}

// New creates a Doctor.
func New(opts ...Option) *Doctor {
	d := &Doctor{
		memWarnPct: 90,
		dskWarnPct: 90,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every check and returns the results in a stable order.
func (d *Doctor) Run(ctx context.Context) []CheckResult {
	results := []CheckResult{
		d.checkMemory(),
		d.checkDisk(),
		d.checkLoad(),
	}
	if d.store != nil {
		results = append(results, d.checkStore(ctx))
	}
	for _, j := range d.judges {
		results = append(results, d.checkJudge(ctx, j))
	}
	return results
}

// Healthy reports whether no check failed.
func Healthy(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusFail {
			return false
		}
	}
	return true
}

func (d *Doctor) checkMemory() CheckResult {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return CheckResult{Name: "memory", Status: StatusWarn,
			Detail: fmt.Sprintf("unable to read memory stats: %v", err)}
	}
	detail := fmt.Sprintf("%.1f%% used of %.1f GB",
		vm.UsedPercent, float64(vm.Total)/(1024*1024*1024))
	if vm.UsedPercent >= d.memWarnPct {
		return CheckResult{Name: "memory", Status: StatusWarn, Detail: detail}
	}
	return CheckResult{Name: "memory", Status: StatusOK, Detail: detail}
}

func (d *Doctor) checkDisk() CheckResult {
	path := d.storePath
	if path == "" {
		path = "."
	}
	usage, err := disk.Usage(path)
	if err != nil {
		// The store path may not exist yet; fall back to cwd.
		usage, err = disk.Usage(".")
	}
	if err != nil {
		return CheckResult{Name: "disk", Status: StatusWarn,
			Detail: fmt.Sprintf("unable to read disk stats: %v", err)}
	}
	detail := fmt.Sprintf("%.1f%% used of %.1f GB",
		usage.UsedPercent, float64(usage.Total)/(1024*1024*1024))
	if usage.UsedPercent >= d.dskWarnPct {
		return CheckResult{Name: "disk", Status: StatusWarn, Detail: detail}
	}
	return CheckResult{Name: "disk", Status: StatusOK, Detail: detail}
}

func (d *Doctor) checkLoad() CheckResult {
	if runtime.GOOS == "windows" {
		return CheckResult{Name: "load", Status: StatusOK, Detail: "not available on windows"}
	}
	avg, err := load.Avg()
	if err != nil {
		return CheckResult{Name: "load", Status: StatusWarn,
			Detail: fmt.Sprintf("unable to read load average: %v", err)}
	}
	detail := fmt.Sprintf("%.2f %.2f %.2f", avg.Load1, avg.Load5, avg.Load15)
	if avg.Load1 > float64(runtime.NumCPU()*2) {
		return CheckResult{Name: "load", Status: StatusWarn, Detail: detail + " (high)"}
	}
	return CheckResult{Name: "load", Status: StatusOK, Detail: detail}
}

func (d *Doctor) checkStore(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	started := time.Now()
	if _, err := d.store.List(ctx, core.RunFilter{Limit: 1}); err != nil {
		return CheckResult{Name: "store", Status: StatusFail,
			Detail: fmt.Sprintf("query failed: %v", err)}
	}
	return CheckResult{Name: "store", Status: StatusOK,
		Detail: fmt.Sprintf("answered in %s", time.Since(started).Round(time.Millisecond))}
}

func (d *Doctor) checkJudge(ctx context.Context, j Pinger) CheckResult {
	name := "judge:" + j.Name()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := j.Ping(ctx); err != nil {
		return CheckResult{Name: name, Status: StatusFail, Detail: err.Error()}
	}
	return CheckResult{Name: name, Status: StatusOK, Detail: "reachable"}
}
