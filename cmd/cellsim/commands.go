package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/cellsim/internal/analysis"
	"github.com/san-kum/cellsim/internal/api"
	"github.com/san-kum/cellsim/internal/automation"
	"github.com/san-kum/cellsim/internal/events"
	"github.com/san-kum/cellsim/internal/experiment"
	"github.com/san-kum/cellsim/internal/export"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
	"github.com/san-kum/cellsim/internal/viz"
)

func serve(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	reg := experiment.NewRegistry()
	if experiment.IsNetworkFile(cfg.Network) {
		name, err := reg.RegisterFile(cfg.Network)
		if err != nil {
			return err
		}
		log.Info("registered network file", zap.String("path", cfg.Network), zap.String("name", name))
	}
	integ, err := reg.GetIntegrator(cfg.Solver.Name, solverOptions())
	if err != nil {
		return err
	}

	// clients name registered networks only; paths are never opened
	opts := []jobs.Option{
		jobs.WithLogger(log),
		jobs.WithIntegrator(integ),
		jobs.WithModelFactory(reg.Registered()),
	}
	pub, err := openPublisher()
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		opts = append(opts, jobs.WithObservers(pub))
	}
	sup := jobs.NewSupervisor(st, opts...)
	srv := api.NewServer(st, sup, log, api.WithNetworks(reg.Has))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	return sup.Shutdown(shutdownCtx)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ec, err := jobConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var observers []jobs.Observer
	pub, err := openPublisher()
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		observers = append(observers, pub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network := ec.Network
	if network == "" {
		network = "default"
	}
	fmt.Printf("running %s for %gs (dt=%gs, solver=%s)...\n", network, ec.TotalTime, ec.Dt, ec.Solver)
	start := time.Now()

	h, err := experiment.New(ec, nil, st, log, observers...).Start(ctx)
	if err != nil {
		return err
	}
	if watch {
		mon := viz.NewMonitor(st, h.ID, append(monitorOptions(), viz.WithCancel(h.Cancel))...)
		if _, err := mon.Run(); err != nil {
			h.Cancel()
			log.Warn("monitor exited", zap.Error(err))
		}
	}
	rec, err := h.Wait()
	if err != nil {
		return err
	}

	fmt.Printf("finished in %v\n", time.Since(start).Round(time.Millisecond))
	return printRecord(context.Background(), st, rec)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ec, err := jobConfig(cmd)
	if err != nil {
		return err
	}

	var (
		names  []string
		ranges [][]float64
	)
	for _, a := range axes {
		name, vals, err := experiment.ParseAxis(a)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := experiment.NewSweep(names, ranges, workers)
	fmt.Printf("sweeping %d points (%d workers)...\n", len(g.Points()), workers)
	points, err := g.Run(ctx, experiment.New(ec, nil, st, log), score)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "RANK"
	for _, n := range names {
		header += "\t" + n
	}
	fmt.Fprintln(w, header+"\t"+score+"\tSTATUS\tID")
	for i, p := range points {
		line := fmt.Sprintf("%d", i+1)
		for _, n := range names {
			line += fmt.Sprintf("\t%g", p.Params[n])
		}
		val := "-"
		if !math.IsNaN(p.Score) {
			val = fmt.Sprintf("%.6g", p.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", line, val, p.Record.Status, p.Record.ID)
	}
	return w.Flush()
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	defaults, err := jobConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	r := &automation.Runner{Defaults: defaults, Store: st, Log: log}
	pub, err := openPublisher()
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		r.Observers = append(r.Observers, pub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("scenario %s: %d steps\n", sc.Name, len(sc.Steps))
	results, runErr := r.Run(ctx, sc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tNAME\tSTATUS\tID")
	for i, res := range results {
		name := res.Step.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, name, res.Record.Status, res.Record.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}

func listSimulations(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ListJobs(cmd.Context(), limit, offset)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no simulations found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tPROGRESS\tTOTAL\tDT\tNETWORK")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f%%\t%gs\t%gs\t%s\n",
			r.ID,
			r.Status,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Progress(),
			r.TotalTime,
			r.Dt,
			r.Network,
		)
	}
	return w.Flush()
}

func showStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printRecord(cmd.Context(), st, rec)
}

func printRecord(ctx context.Context, st storage.Store, rec jobs.Record) error {
	th := viz.GetTheme(theme)
	fmt.Printf("id:        %s\n", rec.ID)
	fmt.Printf("status:    %s\n", viz.StatusBadge(th, rec.Status))
	fmt.Printf("progress:  %s %.1f%% (%g / %gs)\n", viz.ProgressBar(rec.Progress(), 20), rec.Progress(), rec.CurrentTime, rec.TotalTime)
	if rec.StartedAt != nil {
		fmt.Printf("started:   %s\n", rec.StartedAt.Local().Format(time.RFC3339))
	}
	if rec.CompletedAt != nil {
		fmt.Printf("completed: %s\n", rec.CompletedAt.Local().Format(time.RFC3339))
	}
	if rec.ErrorMessage != nil {
		fmt.Printf("message:   %s\n", *rec.ErrorMessage)
	}

	n, err := st.CountTimesteps(ctx, rec.ID)
	if err != nil {
		return err
	}
	fmt.Printf("timesteps: %d\n", n)

	latest, err := st.ReadLatest(ctx, rec.ID)
	if err != nil || latest == nil {
		return err
	}
	fmt.Printf("\nat t=%gs:\n", latest.Time)
	printValues("metabolites (mM)", latest.Concentrations)
	printValues("fluxes (mM/s)", latest.Fluxes)
	printValues("cell", latest.CellMetrics)
	return nil
}

func printValues(title string, m map[string]float64) {
	if len(m) == 0 {
		return
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Printf("  %s\n", title)
	for _, k := range names {
		fmt.Printf("    %-18s %.6g\n", k, m[k])
	}
}

func plotSimulation(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	steps, err := export.Collect(cmd.Context(), st, args[0])
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("simulation %s has no results", args[0])
	}

	chart, err := viz.Plot(steps, viz.PickSpecies(steps, species, 3), width, height)
	if err != nil {
		return err
	}
	fmt.Println(chart)
	return nil
}

func analyzeSimulation(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetJob(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	steps, err := export.Collect(cmd.Context(), st, rec.ID)
	if err != nil {
		return err
	}
	for len(steps) > 0 && steps[0].Time < skip {
		steps = steps[1:]
	}
	if len(steps) < 4 {
		return fmt.Errorf("simulation %s has too few results to analyze", rec.ID)
	}

	fmt.Printf("frequency analysis: %s (%d points from t=%gs)\n\n", rec.ID, len(steps), steps[0].Time)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPECIES\tPERIOD\tFREQUENCY\tSHARE")
	for _, name := range viz.PickSpecies(steps, species, 3) {
		series, ok := viz.Trajectory(steps, name)
		if !ok {
			continue
		}
		peak, ok := analysis.Dominant(series, rec.Dt)
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%.3gs\t%.4g Hz\t%.0f%%\n", name, peak.Period, peak.Frequency, 100*peak.Share)
	}
	return w.Flush()
}

func watchSimulation(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetJob(cmd.Context(), args[0]); err != nil {
		return err
	}
	rec, err := viz.NewMonitor(st, args[0], monitorOptions()...).Run()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", rec.ID, rec.Status)
	return nil
}

func followEvents(cmd *cobra.Command, args []string) error {
	pub, err := openPublisher()
	if err != nil {
		return err
	}
	if pub == nil {
		return fmt.Errorf("no redis address configured (redis.addr or CELLSIM_REDIS_ADDR)")
	}
	defer pub.Close()

	id := ""
	if len(args) > 0 {
		id = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "following %s (Ctrl-C to stop)\n", pub.Stream())
	err = pub.Follow(ctx, id, "$", func(ev events.Event) error {
		switch {
		case ev.Status != nil:
			fmt.Printf("%s  %s  status=%s\n", ev.ID, ev.JobID, ev.Status.Status)
			if id != "" && ev.Status.Status.Terminal() {
				return io.EOF
			}
		case ev.Timestep != nil:
			fmt.Printf("%s  %s  t=%g\n", ev.ID, ev.JobID, ev.Timestep.Time)
		}
		return nil
	})
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func exportCSV(cmd *cobra.Command, args []string) error {
	return withOutput(func(w io.Writer, st storage.Store) error {
		if _, err := st.GetJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		steps, err := export.Collect(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		return export.WriteCSV(w, steps)
	})
}

func exportJSON(cmd *cobra.Command, args []string) error {
	return withOutput(func(w io.Writer, st storage.Store) error {
		rec, err := st.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		steps, err := export.Collect(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		return export.WriteJSON(w, rec, steps)
	})
}

func withOutput(fn func(io.Writer, storage.Store) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if output == "" {
		return fn(os.Stdout, st)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := fn(f, st); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported to %s\n", output)
	return nil
}
