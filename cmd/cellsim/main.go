package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/config"
	"github.com/san-kum/cellsim/internal/events"
	"github.com/san-kum/cellsim/internal/experiment"
	"github.com/san-kum/cellsim/internal/integrators"
	"github.com/san-kum/cellsim/internal/logging"
	"github.com/san-kum/cellsim/internal/storage"
	"github.com/san-kum/cellsim/internal/viz"
)

var (
	configFile string
	dataDir    string
	logLevel   string

	cfg *config.Config
	log *zap.Logger

	// run / sweep
	dt        float64
	totalTime float64
	preset    string
	solver    string
	network   string
	params    []string
	axes      []string
	score     string
	workers   int
	watch     bool

	// plot
	species []string
	width   int
	height  int

	// analyze
	skip float64

	// watch
	theme    string
	interval time.Duration

	// export
	output string

	// list
	limit  int
	offset int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cellsim",
		Short:         "cell metabolism simulation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the REST API and job supervisor",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run one simulation in-process",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addJobFlags(runCmd)
	runCmd.Flags().BoolVar(&watch, "watch", false, "show the live monitor while running")
	runCmd.Flags().StringSliceVar(&species, "species", nil, "species to show with --watch")
	addMonitorFlags(runCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "run a parameter grid and rank the results",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	addJobFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&axes, "axis", nil, "grid axis name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&score, "score", "ATP", "quantity ranked at the final timestep")
	sweepCmd.Flags().IntVar(&workers, "workers", 4, "concurrent jobs")
	sweepCmd.MarkFlagRequired("axis")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the simulations of a yaml scenario in order",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	addJobFlags(scenarioCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list simulations",
		Args:  cobra.NoArgs,
		RunE:  listSimulations,
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	listCmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	statusCmd := &cobra.Command{
		Use:   "status [id]",
		Short: "show a simulation's status and latest values",
		Args:  cobra.ExactArgs(1),
		RunE:  showStatus,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [id]",
		Short: "plot species time courses",
		Args:  cobra.ExactArgs(1),
		RunE:  plotSimulation,
	}
	plotCmd.Flags().StringSliceVar(&species, "species", nil, "species, fluxes or cell metrics to plot")
	plotCmd.Flags().IntVar(&width, "width", 70, "plot width")
	plotCmd.Flags().IntVar(&height, "height", 15, "plot height")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [id]",
		Short: "find oscillations in species time courses",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeSimulation,
	}
	analyzeCmd.Flags().StringSliceVar(&species, "species", nil, "species, fluxes or cell metrics to analyze")
	analyzeCmd.Flags().Float64Var(&skip, "skip", 0, "seconds of transient to ignore")

	watchCmd := &cobra.Command{
		Use:   "watch [id]",
		Short: "follow a simulation in a live monitor",
		Args:  cobra.ExactArgs(1),
		RunE:  watchSimulation,
	}
	watchCmd.Flags().StringSliceVar(&species, "species", nil, "species to show")
	addMonitorFlags(watchCmd)

	eventsCmd := &cobra.Command{
		Use:   "events [id]",
		Short: "follow the redis event stream",
		Args:  cobra.MaximumNArgs(1),
		RunE:  followEvents,
	}

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [id]",
		Short: "export a trajectory to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [id]",
		Short: "export a simulation and its trajectory to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list job presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				p, _ := config.GetPreset(name)
				fmt.Printf("  %-8s total_time=%gs dt=%gs\n", name, p.TotalTime, p.Dt)
			}
			return nil
		},
	}

	networksCmd := &cobra.Command{
		Use:   "networks [file...]",
		Short: "list reaction networks and solvers, checking any network files given",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := experiment.NewRegistry()
			for _, path := range args {
				name, err := reg.RegisterFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				log.Debug("registered network file", zap.String("path", path), zap.String("name", name))
			}
			fmt.Println("networks:")
			for _, name := range reg.ListNetworks() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("solvers:")
			for _, name := range reg.ListIntegrators() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}

	saveConfigCmd := &cobra.Command{
		Use:   "save-config [path]",
		Short: "write the effective configuration to a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("config written to %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, runCmd, sweepCmd, scenarioCmd, listCmd, statusCmd, plotCmd, analyzeCmd, watchCmd, eventsCmd,
		exportCSVCmd, exportJSONCmd, presetsCmd, networksCmd, saveConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&totalTime, "time", config.DefaultTotalTime, "simulated time in seconds")
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "reporting interval in seconds")
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset job grid")
	cmd.Flags().StringVar(&solver, "solver", "", "integrator (rosenbrock23, rk45)")
	cmd.Flags().StringVar(&network, "network", "", "network name or yaml path")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter override name=value (repeatable)")
}

func addMonitorFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&theme, "theme", viz.ThemeLab.Name, fmt.Sprintf("monitor theme %v", viz.ThemeNames()))
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "monitor refresh interval")
}

func monitorOptions() []viz.MonitorOption {
	return []viz.MonitorOption{
		viz.WithSpecies(species...),
		viz.WithTheme(theme),
		viz.WithInterval(interval),
	}
}

func setup(cmd *cobra.Command) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c

	log, err = logging.New(cfg.Log.Level, cfg.Log.Development)
	return err
}

func openStore() (storage.Store, error) {
	if cfg.Store.Driver == "sqlite3" && cfg.Store.DSN == "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, err
		}
	}
	dsn := cfg.StoreDSN()
	if cfg.Store.Driver == "sqlite3" {
		if abs, err := filepath.Abs(dsn); err == nil {
			dsn = abs
		}
	}
	return storage.Open(cfg.Store.Driver, dsn)
}

// openPublisher returns nil when no redis address is configured.
func openPublisher() (*events.Publisher, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	return events.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Stream, log)
}

func solverOptions() integrators.Options {
	return integrators.Options{RTol: cfg.Solver.RTol, ATol: cfg.Solver.ATol, MaxSteps: cfg.Solver.MaxSteps}
}

// jobConfig resolves the job grid from flags, preset and config, in that
// order of precedence.
func jobConfig(cmd *cobra.Command) (experiment.Config, error) {
	ec := experiment.Config{
		Network:   cfg.Network,
		Solver:    cfg.Solver.Name,
		Options:   solverOptions(),
		TotalTime: cfg.Job.TotalTime,
		Dt:        cfg.Job.Dt,
	}

	if preset != "" {
		p, ok := config.GetPreset(preset)
		if !ok {
			return ec, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		ec.TotalTime, ec.Dt = p.TotalTime, p.Dt
	}
	if cmd.Flags().Changed("time") {
		ec.TotalTime = totalTime
	}
	if cmd.Flags().Changed("dt") {
		ec.Dt = dt
	}
	if solver != "" {
		ec.Solver = solver
	}
	if network != "" {
		ec.Network = network
	}

	overrides, err := parseParams(params)
	if err != nil {
		return ec, err
	}
	ec.Params = overrides
	return ec, nil
}

func parseParams(list []string) (map[string]float64, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(list))
	for _, kv := range list {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q: want name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --param %q: %w", kv, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}
