package workload

import (
	"github.com/inference-sim/dsm-sim/sim"
)

// loop is a frame that calls body n times in sequence, folding each callee's
// value into acc, and returns acc. An error from any callee ends the loop.
type loop struct {
	n    int
	i    int
	acc  int64
	body func(i int, acc int64) sim.Frame
	fold func(acc, v int64) int64
}

func (l *loop) Resume(_ *sim.Thread, in sim.Result) sim.Step {
	if in.Err != nil {
		return sim.ReturnErr(in.Err)
	}
	if l.i > 0 {
		l.acc = l.fold(l.acc, in.Value)
	}
	if l.i == l.n {
		return sim.Return(l.acc)
	}
	f := l.body(l.i, l.acc)
	l.i++
	return sim.Call(f)
}

func count(acc, _ int64) int64 { return acc + 1 }

// fetchIncThread increments counters round-robin, starting at an offset
// derived from the thread so threads collide on every counter.
// Returns the number of completed operations.
func (p *Plan) fetchIncThread(global int, c *sim.Correlator) sim.Frame {
	return &loop{
		n: p.spec.OpsPerThread,
		body: func(i int, _ int64) sim.Frame {
			addr := p.counters[(global+i)%len(p.counters)]
			return p.recording(addr, c.FetchInc(addr))
		},
		fold: count,
	}
}

// recording wraps f so its value is logged against addr on return.
func (p *Plan) recording(addr sim.Address, f sim.Frame) sim.Frame {
	called := false
	return sim.FrameFunc(func(_ *sim.Thread, in sim.Result) sim.Step {
		if !called {
			called = true
			return sim.Call(f)
		}
		if in.Err != nil {
			return sim.ReturnErr(in.Err)
		}
		p.observe(addr, in.Value)
		return sim.Return(in.Value)
	})
}

// readThread reads random words. With RemoteFraction set, a read leaves the
// thread's own host with that probability. Returns the sum of values read.
func (p *Plan) readThread(host, client, thread int, c *sim.Correlator) sim.Frame {
	rng := p.rng.ForSubsystem(sim.SubsystemThread(host, client, thread))
	hosts := p.layout.Hosts
	size := int64(p.layout.Space.Size())
	return &loop{
		n: p.spec.OpsPerThread,
		body: func(int, int64) sim.Frame {
			target := rng.Intn(hosts)
			if rf := p.spec.RemoteFraction; rf != nil {
				target = host
				if hosts > 1 && rng.Float64() < *rf {
					target = rng.Intn(hosts - 1)
					if target >= host {
						target++
					}
				}
			}
			return c.Read(p.layout.Space.Compose(target, uint64(rng.Int63n(size))))
		},
		fold: func(acc, v int64) int64 { return acc + v },
	}
}

// chaseThread follows the pointer cycle from the thread's start for
// OpsPerThread steps. Each read depends on the previous one, so a thread
// has at most one request outstanding. Returns the final address.
func (p *Plan) chaseThread(host, client, thread int, c *sim.Correlator) sim.Frame {
	return &loop{
		n:    p.spec.OpsPerThread,
		acc:  int64(p.ChaseStart(host, client, thread)),
		body: func(_ int, at int64) sim.Frame { return c.Read(sim.Address(at)) },
		fold: func(_, next int64) int64 { return next },
	}
}

// nestedThread runs each increment three calls deep, with a yield on the
// way back up. Returns the number of completed operations.
func (p *Plan) nestedThread(global int, c *sim.Correlator) sim.Frame {
	return &loop{
		n: p.spec.OpsPerThread,
		body: func(i int, _ int64) sim.Frame {
			addr := p.counters[(global+i)%len(p.counters)]
			return passThrough(p.yieldAfter(addr, c.FetchInc(addr)))
		},
		fold: count,
	}
}

// passThrough calls f and returns whatever it returns.
func passThrough(f sim.Frame) sim.Frame {
	called := false
	return sim.FrameFunc(func(_ *sim.Thread, in sim.Result) sim.Step {
		if !called {
			called = true
			return sim.Call(f)
		}
		if in.Err != nil {
			return sim.ReturnErr(in.Err)
		}
		return sim.Return(in.Value)
	})
}

// yieldAfter calls f, records its value against addr, yields once holding
// the value, then returns it.
func (p *Plan) yieldAfter(addr sim.Address, f sim.Frame) sim.Frame {
	state := 0
	var held int64
	return sim.FrameFunc(func(_ *sim.Thread, in sim.Result) sim.Step {
		switch state {
		case 0:
			state = 1
			return sim.Call(f)
		case 1:
			if in.Err != nil {
				return sim.ReturnErr(in.Err)
			}
			held = in.Value
			p.observe(addr, held)
			state = 2
			return sim.Yield(held)
		default:
			return sim.Return(held)
		}
	})
}
