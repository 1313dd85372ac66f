// Package workerthread provides the construction contract the output
// encode chains (internal/output) use: a thread is spawned with
// an init step that produces (handle, run-body) or an error; the
// caller blocks on the init result, and only on success is the
// returned handle wired into the pipeline registry. Grounded on
// compositor_pipeline::thread_utils::InitializableThread from the
// original source: init(options) -> Result<(State, SpawnOutput),
// InitError>, then run(state) on the same OS thread. Go has no
// trait-object equivalent of Rust's associated types, so the contract
// is expressed as a plain function pair instead of an interface.
package workerthread

// InitFunc performs construction — opening a decoder/encoder, binding
// a socket, negotiating SDP — and returns the typed handle callers
// store (SpawnOutput) plus the blocking run body to execute afterwards.
// Returning an error here is the only failure mode the caller
// observes synchronously; once Run starts, failures are the thread's
// own problem to log and recover from.
type InitFunc[SpawnOutput any] func() (SpawnOutput, func(), error)

// Spawn runs init on a new goroutine (standing in for the original's
// dedicated OS thread — the core's actual concurrency unit here is a
// goroutine plus bounded channels, not a raw thread) and blocks until
// it has completed, returning its SpawnOutput or its error. On
// success, the run body is started on a separate new goroutine before
// Spawn returns; the init goroutine exits.
func Spawn[O any](init InitFunc[O]) (O, error) {
	type result struct {
		out O
		err error
	}
	resultCh := make(chan result, 1)
	runCh := make(chan func(), 1)

	go func() {
		out, run, err := init()
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{out: out}
		runCh <- run
	}()

	r := <-resultCh
	if r.err != nil {
		var zero O
		return zero, r.err
	}
	run := <-runCh
	go run()
	return r.out, nil
}
