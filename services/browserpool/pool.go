package browserpool

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"github.com/sony/gobreaker"

	apxerrors "sessionhost/errors"
	"sessionhost/logger"
)

// CapacityObserver is notified of the pool's free-slot count after every
// successful allocate/release. Satisfied by *capacity.Broadcaster; kept as
// an interface here so browserpool doesn't import the capacity package.
type CapacityObserver interface {
	Publish(available int)
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Capacity  int
	Available int
	InUse     int
}

type allocateResult struct {
	id  string
	err error
}

type allocateMsg struct{ reply chan allocateResult }
type insertMsg struct {
	id    string
	inst  *Instance
	reply chan allocateResult
}
type launchFailedMsg struct {
	err   error
	reply chan allocateResult
}
type releaseMsg struct {
	id    string
	reply chan bool
}
type lookupMsg struct {
	id    string
	reply chan string
}
type statsMsg struct{ reply chan Stats }
type sampleMsg struct{ reply chan string }
type resourceMsg struct{ reply chan []InstanceResource }
type shutdownMsg struct{ reply chan struct{} }

// InstanceResource is one instance's most recent watchdog-sampled memory/CPU
// reading, as reported through Pool.ResourceUsage.
type InstanceResource struct {
	ID         string
	MemoryMB   float64
	CPUPercent float64
}

// Pool is the capacity-bounded registry of browser instances keyed by
// session ID. All mutable state (the instances map and the available-slots
// counter) is owned exclusively by one goroutine (run); every public method
// is a message send to that goroutine, so no suspending operation ever
// happens while "holding" the pool's state — per spec.md §9's recommendation
// to prefer a single-owner actor over locks.
type Pool struct {
	launcher Launcher
	observer CapacityObserver
	breaker  *gobreaker.CircuitBreaker

	capacity int
	requests chan interface{}
	done     chan struct{}
}

// New creates a Pool with the given capacity N and launch strategy. The
// observer may be nil; broadcasts become no-ops in that case.
func New(capacity int, launcher Launcher, observer CapacityObserver, breaker *gobreaker.CircuitBreaker) *Pool {
	p := &Pool{
		launcher: launcher,
		observer: observer,
		breaker:  breaker,
		capacity: capacity,
		requests: make(chan interface{}, 64),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pool) run() {
	instances := make(map[string]*Instance)
	available := p.capacity

	notify := func() {
		if p.observer == nil {
			return
		}
		snapshot := available
		go p.observer.Publish(snapshot)
	}

	for msg := range p.requests {
		switch m := msg.(type) {
		case allocateMsg:
			if available <= 0 {
				m.reply <- allocateResult{err: apxerrors.E(apxerrors.AtCapacity, fmt.Errorf("no available browser slots"))}
				continue
			}
			available--
			go p.launchAsync(m.reply)

		case insertMsg:
			instances[m.id] = m.inst
			m.reply <- allocateResult{id: m.id}
			notify()

		case launchFailedMsg:
			available++
			m.reply <- allocateResult{err: m.err}

		case releaseMsg:
			inst, ok := instances[m.id]
			if ok {
				delete(instances, m.id)
				available++
			}
			m.reply <- ok
			if ok {
				go func() {
					inst.Shutdown()
				}()
				notify()
			}

		case lookupMsg:
			if inst, ok := instances[m.id]; ok {
				m.reply <- inst.DebuggerURL
			} else {
				m.reply <- ""
			}

		case statsMsg:
			m.reply <- Stats{Capacity: p.capacity, Available: available, InUse: len(instances)}

		case sampleMsg:
			sample := ""
			for _, inst := range instances {
				sample = inst.DebuggerURL
				break
			}
			m.reply <- sample

		case resourceMsg:
			usage := make([]InstanceResource, 0, len(instances))
			for id, inst := range instances {
				mem, cpu := inst.ResourceUsage()
				usage = append(usage, InstanceResource{ID: id, MemoryMB: mem, CPUPercent: cpu})
			}
			m.reply <- usage

		case shutdownMsg:
			for _, inst := range instances {
				inst.Shutdown()
			}
			instances = make(map[string]*Instance)
			available = p.capacity
			close(p.done)
			m.reply <- struct{}{}
			return
		}
	}
}

// launchAsync runs the launch outside the actor goroutine (it's the
// suspending step: subprocess spawn / container start) and reports the
// outcome back over the same channel discipline, wrapped in a circuit
// breaker so a run of launch failures trips open instead of forking
// indefinitely.
func (p *Pool) launchAsync(reply chan allocateResult) {
	ctx := context.Background()
	instAny, err := p.breaker.Execute(func() (interface{}, error) {
		return p.launcher.Launch(ctx)
	})
	if err != nil {
		p.requests <- launchFailedMsg{err: apxerrors.E(apxerrors.Internal, "LaunchFailed", err), reply: reply}
		return
	}
	inst := instAny.(*Instance)
	p.requests <- insertMsg{id: inst.ID, inst: inst, reply: reply}
}

// Allocate reserves a slot, launches a new instance, and returns its ID.
func (p *Pool) Allocate(ctx context.Context) (string, error) {
	reply := make(chan allocateResult, 1)
	select {
	case p.requests <- allocateMsg{reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case res := <-reply:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release removes the instance, shuts it down, and returns its slot.
// Silently succeeds if id is unknown.
func (p *Pool) Release(id string) {
	reply := make(chan bool, 1)
	p.requests <- releaseMsg{id: id, reply: reply}
	<-reply
}

// LookupDebuggerURL returns the cached debugger URL for id, or "" if the
// session is unknown.
func (p *Pool) LookupDebuggerURL(id string) (string, bool) {
	reply := make(chan string, 1)
	p.requests <- lookupMsg{id: id, reply: reply}
	url := <-reply
	return url, url != ""
}

// Stats returns a point-in-time occupancy snapshot.
func (p *Pool) Stats() Stats {
	reply := make(chan Stats, 1)
	p.requests <- statsMsg{reply: reply}
	return <-reply
}

// SampleDebuggerURL returns one arbitrary live instance's debugger URL, or
// "" if the pool holds none. Used only for opportunistic health probing,
// never on the allocate/release path.
func (p *Pool) SampleDebuggerURL() string {
	reply := make(chan string, 1)
	p.requests <- sampleMsg{reply: reply}
	return <-reply
}

// ResourceUsage returns the watchdog-sampled memory/CPU reading for every
// live instance, for the /metrics exporter's per-instance gauges.
func (p *Pool) ResourceUsage() []InstanceResource {
	reply := make(chan []InstanceResource, 1)
	p.requests <- resourceMsg{reply: reply}
	return <-reply
}

// Warmup best-effort pre-allocates up to capacity instances, per spec.md
// §4.2's warmup algorithm: up to 10 rounds, each round launching however
// many instances are still missing in parallel; fails only if the very
// first round produces zero instances.
func (p *Pool) Warmup(ctx context.Context) error {
	spawned := 0
	for round := 0; round < 10 && spawned < p.capacity; round++ {
		remaining := p.capacity - spawned
		results := make(chan error, remaining)
		for n := 0; n < remaining; n++ {
			go func() {
				_, err := p.Allocate(ctx)
				results <- err
			}()
		}
		roundSpawned := 0
		for n := 0; n < remaining; n++ {
			if err := <-results; err == nil {
				roundSpawned++
			} else {
				logger.Warn("warmup attempt failed", zap.Error(err))
			}
		}
		spawned += roundSpawned
		if round == 0 && spawned == 0 {
			return apxerrors.E(apxerrors.Internal, fmt.Errorf("could not spawn any browsers on first warmup pass"))
		}
	}
	if spawned == 0 {
		return apxerrors.E(apxerrors.Internal, fmt.Errorf("could not spawn any browsers after warmup"))
	}
	if spawned < p.capacity {
		logger.Warn("partial warmup", zap.Int("spawned", spawned), zap.Int("capacity", p.capacity))
	}
	return nil
}

// Shutdown releases every instance. Safe to call exactly once.
func (p *Pool) Shutdown(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	select {
	case p.requests <- shutdownMsg{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		close(p.requests)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
