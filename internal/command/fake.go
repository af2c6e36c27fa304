package command

import (
	"context"
	"sync"
)

// Fake is a Runner driven by a callback. It records every call.
type Fake struct {
	Fn func(ctx context.Context, name string, args ...string) (Result, error)

	mu    sync.Mutex
	calls []Call
}

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if f.Fn == nil {
		return Result{}, nil
	}
	return f.Fn(ctx, name, args...)
}

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// ArgValue returns the value following flag in args, or "".
func ArgValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
