package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/marmos91/agentfs/internal/bytesize"
	"github.com/marmos91/agentfs/internal/cli/output"
	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/config"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/vfs"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/spf13/cobra"
)

var (
	selftestSize         = 1 * bytesize.MiB
	selftestOutput       string
	selftestServeMetrics bool
	selftestWatch        bool
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Exercise a configured core end to end",
	Long: `Build a core from the configuration and run a copy-on-write workflow
against it: write a file, snapshot, branch, diverge the branch, check the
original is untouched, then tear everything down and collect garbage.

Each step is timed. Use it to check that a storage backend is wired
correctly or to compare backends.

Examples:
  # Run against the default configuration
  agentfs selftest

  # Use a bigger file and print JSON
  agentfs selftest --size 64Mi -o json

  # Keep serving Prometheus metrics afterwards
  agentfs selftest --serve-metrics`,
	RunE: runSelftest,
}

func init() {
	selftestCmd.Flags().Var(&selftestSize, "size", "Size of the test file")
	selftestCmd.Flags().StringVarP(&selftestOutput, "output", "o", "table", "Output format (table|json|yaml)")
	selftestCmd.Flags().BoolVar(&selftestServeMetrics, "serve-metrics", false, "Serve metrics on metrics.port until interrupted")
	selftestCmd.Flags().BoolVar(&selftestWatch, "watch", false, "Reload the log level when the config file changes (with --serve-metrics)")
}

// StepResult is the outcome of one selftest step.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	OK       bool          `json:"ok" yaml:"ok"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// SelftestReport is the selftest result.
type SelftestReport struct {
	Storage string       `json:"storage" yaml:"storage"`
	Steps   []StepResult `json:"steps" yaml:"steps"`
	Events  int64        `json:"events" yaml:"events"`
	Stats   vfs.FsStats  `json:"stats" yaml:"stats"`
}

// Passed reports whether every step succeeded.
func (r *SelftestReport) Passed() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return len(r.Steps) > 0
}

func (r *SelftestReport) Headers() []string {
	return []string{"Step", "Result", "Time", "Detail"}
}

func (r *SelftestReport) Rows() [][]string {
	rows := make([][]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		result := "ok"
		if !s.OK {
			result = "FAIL"
		}
		rows = append(rows, []string{s.Name, result, output.Duration(s.Duration), s.Detail})
	}
	return rows
}

func runSelftest(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(selftestOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	logger.Info("Configuration loaded", "source", configSource(GetConfigFile()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObservability, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownObservability(context.Background())

	// The registry must exist before the core so its metrics are not nil
	if cfg.Metrics.Enabled || selftestServeMetrics {
		metrics.InitRegistry()
	}

	core, err := config.NewCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := core.Shutdown(shutdownCtx); err != nil {
			logger.Error("core shutdown error", logger.Err(err))
		}
	}()

	report, err := Selftest(ctx, core, cfg, selftestSize)
	if err != nil {
		return err
	}
	report.Storage = cfg.Storage.Type

	out := cmd.OutOrStdout()
	if err := output.Print(out, format, report); err != nil {
		return err
	}
	if format == output.FormatTable {
		_, _ = fmt.Fprintln(out)
		_ = output.PrintKV(out, [][2]string{
			{"storage", cfg.Storage.Type},
			{"file size", output.Bytes(selftestSize.Uint64())},
			{"resident", output.Bytes(report.Stats.ResidentBytes)},
			{"spilled", output.Bytes(report.Stats.SpilledBytes)},
			{"clones", output.Count(int64(report.Stats.Clones))},
			{"events", output.Count(report.Events)},
		})
	}
	if !report.Passed() {
		return errors.New("selftest failed")
	}

	if selftestServeMetrics {
		return serveMetrics(ctx, cfg)
	}
	return nil
}

// Selftest runs the copy-on-write workflow on core with a file of size
// bytes. Step failures are recorded in the report; the error is only set
// when the workflow could not start.
func Selftest(ctx context.Context, core *vfs.Core, cfg *config.Config, size bytesize.ByteSize) (*SelftestReport, error) {
	const (
		agentPID  uint32 = 4100
		branchPID uint32 = 4101
		dir              = "/selftest"
		file             = dir + "/data.bin"
	)

	// Act as the root owner so the default root mode permits writes
	root := cfg.Core.Root
	for _, pid := range []uint32{agentPID, branchPID} {
		if err := core.RegisterProcessWithGroups(ctx, pid, root.UID, root.GID, nil); err != nil {
			return nil, fmt.Errorf("failed to register process %d: %w", pid, err)
		}
	}
	defer func() {
		_ = core.UnregisterProcess(ctx, agentPID)
		_ = core.UnregisterProcess(ctx, branchPID)
	}()

	report := &SelftestReport{}
	var eventCount atomic.Int64
	if cfg.Core.TrackEvents {
		sub, err := core.SubscribeEvents(func(events.Event) { eventCount.Add(1) })
		if err != nil {
			return nil, err
		}
		defer func() { _ = core.UnsubscribeEvents(sub) }()
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*31 + i>>8)
	}
	patch := bytes.Repeat([]byte{0xA5}, min(4096, len(data)))

	var (
		snap   vfs.SnapshotID
		branch vfs.BranchID
		failed bool
	)
	step := func(name string, fn func() (string, error)) {
		if failed {
			report.Steps = append(report.Steps, StepResult{Name: name, Detail: "skipped"})
			return
		}
		start := time.Now()
		detail, err := fn()
		res := StepResult{Name: name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
		if err != nil {
			failed = true
			res.Detail = err.Error()
			logger.Warn("Selftest step failed", "step", name, logger.Err(err), logger.ErrorCode(fserrors.CodeOf(err).String()))
		}
		report.Steps = append(report.Steps, res)
	}

	step("mkdir", func() (string, error) {
		return dir, core.Mkdir(ctx, agentPID, dir, 0o755)
	})
	step("write", func() (string, error) {
		if err := writeFile(ctx, core, agentPID, file, data); err != nil {
			return "", err
		}
		return output.Bytes(uint64(len(data))), nil
	})
	step("snapshot", func() (string, error) {
		var err error
		snap, err = core.SnapshotCreate(ctx, core.RootBranch(), "selftest-base")
		return string(snap), err
	})
	step("branch", func() (string, error) {
		var err error
		if branch, err = core.BranchCreate(ctx, snap, "selftest-work"); err != nil {
			return "", err
		}
		return string(branch), core.BranchBind(ctx, branchPID, branch)
	})
	step("diverge", func() (string, error) {
		before := core.Clones()
		if err := patchFile(ctx, core, branchPID, file, patch); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d clone(s)", core.Clones()-before), nil
	})
	step("verify", func() (string, error) {
		orig, err := readFile(ctx, core, agentPID, file, len(data))
		if err != nil {
			return "", err
		}
		if !bytes.Equal(orig, data) {
			return "", errors.New("root branch content changed after branch write")
		}
		forked, err := readFile(ctx, core, branchPID, file, len(patch))
		if err != nil {
			return "", err
		}
		if !bytes.Equal(forked, patch) {
			return "", errors.New("branch write not visible on branch")
		}
		return "views isolated", nil
	})
	step("readdir", func() (string, error) {
		entries, err := core.Readdir(ctx, branchPID, dir)
		if err != nil {
			return "", err
		}
		var names []string
		for _, e := range entries {
			if e.Name != "." && e.Name != ".." {
				names = append(names, e.Name)
			}
		}
		if len(names) != 1 || names[0] != path.Base(file) {
			return "", fmt.Errorf("unexpected entries: %v", entries)
		}
		return fmt.Sprintf("%d entries, 1 file", len(entries)), nil
	})
	step("teardown", func() (string, error) {
		if _, err := core.BranchRebindAll(ctx, branch, core.RootBranch()); err != nil {
			return "", err
		}
		if err := core.BranchDelete(ctx, branch); err != nil {
			return "", err
		}
		if err := core.SnapshotDelete(ctx, snap); err != nil {
			return "", err
		}
		if err := core.Unlink(ctx, agentPID, file); err != nil {
			return "", err
		}
		return "", core.Rmdir(ctx, agentPID, dir)
	})
	step("gc", func() (string, error) {
		freed, err := core.CollectGarbage(ctx)
		return fmt.Sprintf("%d freed", freed), err
	})

	stats, err := core.Statfs(ctx)
	if err != nil {
		return nil, err
	}
	report.Stats = stats
	report.Events = eventCount.Load()
	return report, nil
}

func writeFile(ctx context.Context, core *vfs.Core, pid uint32, path string, data []byte) error {
	h, err := core.Open(ctx, pid, path, vfs.OpenOptions{Write: true, Create: true, Truncate: true, Mode: 0o644})
	if err != nil {
		return err
	}
	if _, err := core.Write(ctx, pid, h, 0, data); err != nil {
		_ = core.Close(ctx, pid, h)
		return err
	}
	if err := core.Fsync(ctx, pid, h, false); err != nil {
		_ = core.Close(ctx, pid, h)
		return err
	}
	return core.Close(ctx, pid, h)
}

func patchFile(ctx context.Context, core *vfs.Core, pid uint32, path string, patch []byte) error {
	h, err := core.Open(ctx, pid, path, vfs.OpenOptions{Read: true, Write: true})
	if err != nil {
		return err
	}
	if _, err := core.Write(ctx, pid, h, 0, patch); err != nil {
		_ = core.Close(ctx, pid, h)
		return err
	}
	return core.Close(ctx, pid, h)
}

func readFile(ctx context.Context, core *vfs.Core, pid uint32, path string, n int) ([]byte, error) {
	h, err := core.Open(ctx, pid, path, vfs.OpenOptions{Read: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = core.Close(ctx, pid, h) }()
	return core.Read(ctx, pid, h, 0, n)
}

// serveMetrics exposes /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, cfg *config.Config) error {
	if selftestWatch {
		if err := config.Watch(GetConfigFile(), nil); err != nil {
			logger.Warn("Config watch disabled", logger.Err(err))
		}
	}

	port := cfg.Metrics.Port
	if port == 0 {
		port = 9090
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "addr", srv.Addr, "path", "/metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
