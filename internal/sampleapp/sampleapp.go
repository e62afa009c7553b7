// Package sampleapp is a small instrumented workload: every thread runs a
// loop of calls whose shape depends on coin flips, so captures taken from
// it differ from run to run.
package sampleapp

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/profile"
)

const ClassName = "de/codesourcery/sampleapp/TestApplicationManual"

const (
	RunID method.ID = iota
	Method1ID
	Method2ID
	Method3ID
	Method4ID
)

var methodNames = []string{"run", "method1", "method2", "method3", "method4"}

type Config struct {
	Threads    int
	Iterations int
	Seed       int64
	// Sleep pauses the calling thread, time.Sleep when nil.
	Sleep func(time.Duration)
}

func DefaultConfig() Config {
	return Config{
		Threads:    5,
		Iterations: 10,
		Seed:       time.Now().UnixNano(),
	}
}

// Identities returns the methods of the workload.
func Identities() []method.Identity {
	identities := make([]method.Identity, 0, len(methodNames))
	for id, name := range methodNames {
		identities = append(identities, method.Identity{
			ID:         method.ID(id),
			ClassName:  ClassName,
			MethodName: name,
			Signature:  "()V",
		})
	}
	return identities
}

func Register(p *profile.Profiler) error {
	for _, i := range Identities() {
		if err := p.RegisterMethod(i); err != nil {
			return err
		}
	}
	return nil
}

type app struct {
	p      *profile.Profiler
	thread profile.Thread
	rnd    *rand.Rand
	sleep  func(time.Duration)
}

// Run registers the workload's methods and runs it on cfg.Threads
// goroutines named thread-0, thread-1, and so on. Capture has to be
// started by the caller.
func Run(ctx context.Context, p *profile.Profiler, cfg Config) error {
	if err := Register(p); err != nil {
		return err
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Threads; i++ {
		a := &app{
			p:      p,
			thread: profile.Thread{ID: uint64(i + 1), Name: fmt.Sprintf("thread-%d", i)},
			rnd:    rand.New(rand.NewSource(cfg.Seed + int64(i))),
			sleep:  sleep,
		}
		g.Go(func() error {
			return a.run(ctx, cfg.Iterations)
		})
	}
	return g.Wait()
}

func (a *app) run(ctx context.Context, iterations int) error {
	a.p.MethodEntered(a.thread, RunID)
	defer a.p.MethodLeft(a.thread)
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.method1()
	}
	return nil
}

func (a *app) method1() {
	a.p.MethodEntered(a.thread, Method1ID)
	defer a.p.MethodLeft(a.thread)
	a.sleep(20 * time.Millisecond)
	if a.method2() {
		a.method3()
	} else {
		a.method4()
	}
}

func (a *app) method2() bool {
	a.p.MethodEntered(a.thread, Method2ID)
	defer a.p.MethodLeft(a.thread)
	return a.rnd.Intn(2) == 1
}

func (a *app) method3() {
	a.p.MethodEntered(a.thread, Method3ID)
	defer a.p.MethodLeft(a.thread)
	a.sleep(20 * time.Millisecond)
	if a.rnd.Intn(2) == 1 {
		a.method4()
	}
}

func (a *app) method4() {
	a.p.MethodEntered(a.thread, Method4ID)
	defer a.p.MethodLeft(a.thread)
	a.sleep(40 * time.Millisecond)
}
