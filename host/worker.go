package host

import (
	"context"
	"fmt"

	"github.com/sorane/libretto/vm"
)

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) interface{}
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value interface{}
	err   error
}

// Worker serialises all access to one VM through a single goroutine. The
// stepper is single-threaded and must not run two steps concurrently;
// hosts that drive a VM from multiple goroutines (renderers, servers) go
// through a Worker.
type Worker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(v *vm.VM) *Worker {
	w := &Worker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *Worker) execute(fn func(*vm.VM) interface{}) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.vm)
	}()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks until
// it completes. Returns the result and any error (including panics).
func (w *Worker) Do(fn func(*vm.VM) interface{}) (interface{}, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// stepResult pairs one step's output with its error for transport through Do.
type stepResult struct {
	out *vm.Output
	err error
}

// Step runs one NextOutput call on the VM goroutine.
func (w *Worker) Step(ctx context.Context, input *vm.Input) (*vm.Output, error) {
	result, err := w.Do(func(v *vm.VM) interface{} {
		out, err := v.NextOutput(ctx, input)
		return stepResult{out: out, err: err}
	})
	if err != nil {
		return nil, err
	}
	r := result.(stepResult)
	return r.out, r.err
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
