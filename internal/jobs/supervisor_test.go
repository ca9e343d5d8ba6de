package jobs_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/san-kum/cellsim/internal/dynamo"
	"github.com/san-kum/cellsim/internal/jobs"
	"github.com/san-kum/cellsim/internal/storage"
)

var _ = Describe("Spec", func() {
	It("builds an exact grid of i*dt", func() {
		spec := jobs.Spec{ID: "x", TotalTime: 5, Dt: 1}
		Expect(spec.Steps()).To(Equal(5))
		for i := 0; i <= 5; i++ {
			Expect(spec.TimeAt(i)).To(Equal(float64(i)))
		}
	})

	It("does not accumulate rounding error", func() {
		spec := jobs.Spec{ID: "x", TotalTime: 1, Dt: 0.1}
		Expect(spec.Steps()).To(Equal(10))
		Expect(spec.TimeAt(3)).To(Equal(3 * 0.1))
		Expect(spec.TimeAt(10)).To(Equal(1.0))
	})

	It("clips the last point to the total time", func() {
		spec := jobs.Spec{ID: "x", TotalTime: 2.5, Dt: 1}
		Expect(spec.Steps()).To(Equal(3))
		Expect(spec.TimeAt(3)).To(Equal(2.5))
	})

	DescribeTable("rejects malformed specs",
		func(spec jobs.Spec) {
			Expect(spec.Validate()).To(MatchError(dynamo.ErrModel))
		},
		Entry("empty id", jobs.Spec{TotalTime: 1, Dt: 1}),
		Entry("zero total time", jobs.Spec{ID: "x", Dt: 1}),
		Entry("negative dt", jobs.Spec{ID: "x", TotalTime: 1, Dt: -1}),
	)
})

var _ = Describe("Supervisor", func() {
	var (
		ctx   context.Context
		store *storage.MemStore
	)

	create := func(id string, total, dt float64) jobs.Spec {
		spec := jobs.Spec{ID: id, TotalTime: total, Dt: dt, Network: "isomerization"}
		Expect(store.CreateJob(ctx, jobs.NewRecord(spec))).To(Succeed())
		return spec
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewMemStore()
	})

	Describe("completion", func() {
		It("persists every grid point and completes", func() {
			obs := &recordingObserver{}
			sup := jobs.NewSupervisor(store, jobs.WithObservers(obs))
			spec := create("done", 5, 1)

			started, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(started).To(BeTrue())
			Expect(sup.Wait(ctx, "done")).To(Succeed())

			Expect(times(store, "done")).To(Equal([]float64{0, 1, 2, 3, 4, 5}))

			rec, err := store.GetJob(ctx, "done")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusCompleted))
			Expect(rec.CurrentTime).To(Equal(5.0))
			Expect(rec.StartedAt).NotTo(BeNil())
			Expect(rec.CompletedAt).NotTo(BeNil())
			Expect(rec.ErrorMessage).To(BeNil())
			Expect(sup.IsRunning("done")).To(BeFalse())

			Expect(obs.Times()).To(Equal([]float64{0, 1, 2, 3, 4, 5}))
			statuses := obs.Statuses()
			Expect(statuses[0]).To(Equal(jobs.StatusRunning))
			Expect(statuses[len(statuses)-1]).To(Equal(jobs.StatusCompleted))
		})

		It("keeps every persisted concentration non-negative", func() {
			sup := jobs.NewSupervisor(store)
			spec := jobs.Spec{ID: "glyco", TotalTime: 3, Dt: 1}
			Expect(store.CreateJob(ctx, jobs.NewRecord(spec))).To(Succeed())

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sup.Wait(ctx, "glyco")).To(Succeed())
			Expect(status(store, "glyco")).To(Equal(jobs.StatusCompleted))

			all, err := store.ReadAfter(ctx, "glyco", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(4))
			for _, ts := range all {
				for name, c := range ts.Concentrations {
					Expect(c).To(BeNumerically(">=", 0), name)
				}
				Expect(ts.Fluxes).To(HaveKey("glycolysis"))
				Expect(ts.CellMetrics).To(HaveKey("energy_charge"))
			}
		})

		It("tolerates failing observers", func() {
			sup := jobs.NewSupervisor(store, jobs.WithObservers(&recordingObserver{failEvery: true}))
			spec := create("noisy", 2, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sup.Wait(ctx, "noisy")).To(Succeed())
			Expect(status(store, "noisy")).To(Equal(jobs.StatusCompleted))
		})
	})

	Describe("duplicate starts", func() {
		It("admits exactly one runner per id", func() {
			g := newGate()
			DeferCleanup(g.open)
			sup := jobs.NewSupervisor(store, jobs.WithIntegrator(g))
			spec := create("dup", 5, 1)

			var accepted atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					ok, err := sup.Start(spec)
					Expect(err).NotTo(HaveOccurred())
					if ok {
						accepted.Add(1)
					}
				}()
			}
			wg.Wait()

			Expect(accepted.Load()).To(Equal(int32(1)))
			Expect(sup.Running()).To(Equal([]string{"dup"}))
			Eventually(func() jobs.Status { return status(store, "dup") }).Should(Equal(jobs.StatusRunning))

			g.open()
			Expect(sup.Wait(ctx, "dup")).To(Succeed())
			Expect(times(store, "dup")).To(HaveLen(6))
		})
	})

	Describe("cancellation", func() {
		It("persists the interval in flight and stops at the next checkpoint", func() {
			g := newGate()
			DeferCleanup(g.open)
			sup := jobs.NewSupervisor(store, jobs.WithIntegrator(g))
			spec := create("stop", 100, 1)

			started, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(started).To(BeTrue())

			g.step()
			g.step()
			Eventually(func() []float64 { return times(store, "stop") }).Should(Equal([]float64{0, 1, 2}))
			Eventually(g.calls).Should(BeEquivalentTo(3))

			Expect(sup.Cancel("stop")).To(BeTrue())
			g.open()
			Expect(sup.Wait(ctx, "stop")).To(Succeed())

			Expect(times(store, "stop")).To(Equal([]float64{0, 1, 2, 3}))
			rec, err := store.GetJob(ctx, "stop")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusCancelled))
			Expect(rec.CurrentTime).To(Equal(3.0))
			Expect(rec.CompletedAt).NotTo(BeNil())
			Expect(rec.ErrorMessage).NotTo(BeNil())
			Expect(*rec.ErrorMessage).To(Equal(jobs.CancelMessage))
			Expect(sup.IsRunning("stop")).To(BeFalse())
			Expect(sup.Cancel("stop")).To(BeFalse())
		})

		It("keeps the first interval of a job cancelled immediately", func() {
			g := newGate()
			DeferCleanup(g.open)
			sup := jobs.NewSupervisor(store, jobs.WithIntegrator(g))
			spec := create("early", 10, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []float64 { return times(store, "early") }).Should(Equal([]float64{0}))
			Eventually(g.calls).Should(BeEquivalentTo(1))
			Expect(sup.Cancel("early")).To(BeTrue())
			g.open()
			Expect(sup.Wait(ctx, "early")).To(Succeed())

			Expect(times(store, "early")).To(Equal([]float64{0, 1}))
			Expect(status(store, "early")).To(Equal(jobs.StatusCancelled))
		})

		It("warns about a runaway concentration before the job ends", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			g := newGate()
			DeferCleanup(g.open)
			factory := func(spec jobs.Spec) (jobs.Model, error) { return flooded(), nil }
			sup := jobs.NewSupervisor(store,
				jobs.WithIntegrator(g),
				jobs.WithModelFactory(factory),
				jobs.WithLogger(zap.New(core)),
			)
			spec := create("flood", 10, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Eventually(g.calls).Should(BeEquivalentTo(1))
			Expect(sup.Cancel("flood")).To(BeTrue())
			g.open()
			Expect(sup.Wait(ctx, "flood")).To(Succeed())

			Expect(status(store, "flood")).To(Equal(jobs.StatusCancelled))
			warned := logs.FilterMessage("concentration exceeded bound")
			Expect(warned.Len()).To(Equal(1))
			Expect(warned.All()[0].ContextMap()).To(HaveKeyWithValue("species", "A"))
		})

		It("returns false for unknown ids", func() {
			sup := jobs.NewSupervisor(store)
			Expect(sup.Cancel("nobody")).To(BeFalse())
			Expect(sup.IsRunning("nobody")).To(BeFalse())
		})
	})

	Describe("failures", func() {
		It("isolates an integration failure to its own job", func() {
			factory := func(spec jobs.Spec) (jobs.Model, error) {
				if spec.ID == "bad" {
					return cliffModel{isomerization()}, nil
				}
				return jobs.BuiltinModels(spec)
			}
			sup := jobs.NewSupervisor(store, jobs.WithModelFactory(factory))
			bad := create("bad", 10, 1)
			good := create("good", 20, 1)

			_, err := sup.Start(good)
			Expect(err).NotTo(HaveOccurred())
			_, err = sup.Start(bad)
			Expect(err).NotTo(HaveOccurred())

			Expect(sup.Wait(ctx, "bad")).To(Succeed())
			Expect(sup.Wait(ctx, "good")).To(Succeed())

			rec, err := store.GetJob(ctx, "bad")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusFailed))
			Expect(rec.ErrorMessage).NotTo(BeNil())
			Expect(*rec.ErrorMessage).To(ContainSubstring("IntegrationFailure"))
			Expect(*rec.ErrorMessage).To(ContainSubstring("t=2."))
			Expect(*rec.ErrorMessage).To(ContainSubstring("quantity=A"))
			Expect(times(store, "bad")).To(Equal([]float64{0, 1, 2}))

			Expect(status(store, "good")).To(Equal(jobs.StatusCompleted))
			Expect(times(store, "good")).To(HaveLen(21))
		})

		It("fails the job when a timestep cannot be persisted", func() {
			flaky := &flakyStore{MemStore: store, failAt: 2}
			sup := jobs.NewSupervisor(flaky)
			spec := create("flaky", 5, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sup.Wait(ctx, "flaky")).To(Succeed())

			rec, err := store.GetJob(ctx, "flaky")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusFailed))
			Expect(*rec.ErrorMessage).To(ContainSubstring("PersistenceFailure"))
			Expect(*rec.ErrorMessage).To(ContainSubstring("disk full"))
			Expect(times(store, "flaky")).To(Equal([]float64{0, 1}))
		})

		It("converts a panic into a failed job", func() {
			factory := func(spec jobs.Spec) (jobs.Model, error) {
				return panicModel{isomerization()}, nil
			}
			sup := jobs.NewSupervisor(store, jobs.WithModelFactory(factory))
			spec := create("boom", 5, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(sup.Wait(ctx, "boom")).To(Succeed())

			rec, err := store.GetJob(ctx, "boom")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusFailed))
			Expect(*rec.ErrorMessage).To(ContainSubstring("metrics exploded"))
			Expect(sup.IsRunning("boom")).To(BeFalse())
		})
	})

	Describe("model errors", func() {
		It("leaves the job pending with the error recorded", func() {
			sup := jobs.NewSupervisor(store)
			spec := create("invalid", 5, 1)
			spec.Params = map[string]float64{"Km": -1}

			started, err := sup.Start(spec)
			Expect(started).To(BeFalse())
			Expect(errors.Is(err, dynamo.ErrModel)).To(BeTrue())
			Expect(sup.IsRunning("invalid")).To(BeFalse())

			rec, err := store.GetJob(ctx, "invalid")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Status).To(Equal(jobs.StatusPending))
			Expect(rec.StartedAt).To(BeNil())
			Expect(rec.ErrorMessage).NotTo(BeNil())
			Expect(*rec.ErrorMessage).To(HavePrefix("ModelError"))
			Expect(times(store, "invalid")).To(BeEmpty())
		})

		It("rejects unknown networks", func() {
			sup := jobs.NewSupervisor(store)
			spec := create("lost", 5, 1)
			spec.Network = "krebs"

			_, err := sup.Start(spec)
			Expect(err).To(MatchError(dynamo.ErrModel))
		})

		It("rejects an invalid grid", func() {
			sup := jobs.NewSupervisor(store)
			_, err := sup.Start(jobs.Spec{ID: "grid", TotalTime: 5, Dt: 0})
			Expect(err).To(MatchError(dynamo.ErrModel))
		})
	})

	Describe("shutdown", func() {
		It("cancels running jobs and refuses new ones", func() {
			g := newGate()
			DeferCleanup(g.open)
			sup := jobs.NewSupervisor(store, jobs.WithIntegrator(g))
			spec := create("long", 100, 1)

			_, err := sup.Start(spec)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []float64 { return times(store, "long") }).Should(HaveLen(1))

			done := make(chan error, 1)
			go func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				done <- sup.Shutdown(sctx)
			}()
			Eventually(func() error {
				_, err := sup.Start(jobs.Spec{ID: "refused"})
				return err
			}).Should(MatchError(jobs.ErrSupervisorClosed))
			g.open()
			Eventually(done).Should(Receive(BeNil()))

			Expect(status(store, "long")).To(Equal(jobs.StatusCancelled))

			_, err = sup.Start(create("late", 1, 1))
			Expect(err).To(MatchError(jobs.ErrSupervisorClosed))
		})
	})
})
