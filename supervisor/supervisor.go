// Package supervisor wires the kernel's active objects into a
// restart-on-crash tree. Nothing in the kernel itself panics in normal
// operation (kernel.AssertHandler is the deliberate exception: a fatal
// assertion is acceptable once hardware has gone out of its documented
// envelope); the supervisor exists so that an assertion fatal to one AO
// restarts only that AO rather than taking the whole core down.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"cirello.io/oversight/v2"
)

// childStopTimeout bounds how long the tree waits for a child to wind
// down before moving on during shutdown or restart.
const childStopTimeout = 5 * time.Second

// Supervisable is anything the supervisor can start, stop, and recover.
// kernel.AO satisfies it directly.
type Supervisable interface {
	Start(ctx context.Context)
	Stop()
}

// Crasher is implemented by a Supervisable that can report a panic
// escaping its own dispatch goroutine rather than losing it silently.
// kernel.AO satisfies it: Start only spawns the run loop and returns
// immediately, so a panic inside run never unwinds back through Start,
// and NewChild would never see it without this.
type Crasher interface {
	Crashed() <-chan error
}

// NewChild wraps ao as an oversight.ChildProcess: it starts ao, blocks
// until the context is cancelled, ao reports a crash via Crasher (when
// it implements it), or ao's run loop exits on its own, and converts any
// panic — whether recovered here synchronously or reported asynchronously
// through Crashed — into an error carrying its name so the restart log
// stays legible.
func NewChild(ao Supervisable, name string) oversight.ChildProcess {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s panicked: %v", name, r)
			}
		}()

		ao.Start(ctx)

		if c, ok := ao.(Crasher); ok {
			select {
			case <-ctx.Done():
				ao.Stop()
				return ctx.Err()
			case crashErr := <-c.Crashed():
				ao.Stop()
				return fmt.Errorf("%s panicked: %v", name, crashErr)
			}
		}

		<-ctx.Done()
		ao.Stop()
		return ctx.Err()
	}
}

// Named bundles an AO with the label used in restart diagnostics.
type Named struct {
	AO   Supervisable
	Name string
}

// BuildTree assembles the supervision tree for a fixed set of named AOs
// known at startup (the bus and device managers). Each child is added
// transient: an AO that exits cleanly on shutdown stays down, one that
// crashes is restarted without disturbing its siblings. The caller runs
// the returned tree with Start(ctx).
func BuildTree(aos ...Named) (*oversight.Tree, error) {
	tree := oversight.New(
		oversight.NeverHalt(),
		oversight.DefaultRestartStrategy(),
	)
	for _, n := range aos {
		if err := tree.Add(
			NewChild(n.AO, n.Name),
			oversight.Transient(),
			oversight.Timeout(childStopTimeout),
			n.Name,
		); err != nil {
			return nil, fmt.Errorf("supervisor: add %s to tree: %w", n.Name, err)
		}
	}
	return tree, nil
}
