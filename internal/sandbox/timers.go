package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// timerQueue backs the sandbox's setTimeout/setInterval globals. The loader
// drains it while awaiting promise settlement; there is no background
// goroutine, so all callbacks run on the invocation's goroutine and handler
// ordering stays deterministic.
type timerQueue struct {
	vm     *goja.Runtime
	nextID int64
	timers map[int64]*timer
}

type timer struct {
	id       int64
	due      time.Time
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
}

func newTimerQueue(vm *goja.Runtime) *timerQueue {
	return &timerQueue{
		vm:     vm,
		timers: make(map[int64]*timer),
	}
}

func (tq *timerQueue) enable() {
	tq.vm.Set("setTimeout", tq.setTimeout)
	tq.vm.Set("setInterval", tq.setInterval)
	tq.vm.Set("clearTimeout", tq.clear)
	tq.vm.Set("clearInterval", tq.clear)
}

func (tq *timerQueue) schedule(call goja.FunctionCall, repeating bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(tq.vm.NewTypeError("timer callback must be a function"))
	}

	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = call.Arguments[2:]
	}

	tq.nextID++
	t := &timer{
		id:   tq.nextID,
		due:  time.Now().Add(delay),
		fn:   fn,
		args: args,
	}
	if repeating {
		t.interval = delay
	}
	tq.timers[t.id] = t
	return tq.vm.ToValue(t.id)
}

func (tq *timerQueue) setTimeout(call goja.FunctionCall) goja.Value {
	return tq.schedule(call, false)
}

func (tq *timerQueue) setInterval(call goja.FunctionCall) goja.Value {
	return tq.schedule(call, true)
}

func (tq *timerQueue) clear(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	delete(tq.timers, id)
	return goja.Undefined()
}

// runNext sleeps until the earliest timer is due, fires it, and reports
// whether anything ran. Microtasks queued by the callback drain when the
// callable returns.
func (tq *timerQueue) runNext() bool {
	var next *timer
	for _, t := range tq.timers {
		if next == nil || t.due.Before(next.due) {
			next = t
		}
	}
	if next == nil {
		return false
	}

	if wait := time.Until(next.due); wait > 0 {
		time.Sleep(wait)
	}

	if next.interval > 0 {
		next.due = time.Now().Add(next.interval)
	} else {
		delete(tq.timers, next.id)
	}

	// Callback exceptions propagate to the awaiting promise as a
	// rejection, so a throw here is intentionally not fatal to the queue.
	_, _ = next.fn(goja.Undefined(), next.args...)
	return true
}
