package tool

import (
	"time"

	"github.com/joss/codecrew/internal/event"
	"github.com/joss/codecrew/internal/process"
	"github.com/joss/codecrew/internal/workspace"
)

// Env carries the shared collaborators builtin tools are constructed with.
type Env struct {
	Sandbox        *workspace.Sandbox
	Processes      *process.Manager
	Events         event.Publisher
	ShellTimeout   time.Duration
	SearchEndpoint string
	HTTP           HTTPDoer
}

// Builtins returns a registry with every builtin tool. Role allow-sets are
// carved out of it with Subset and Without.
func Builtins(env Env) *Registry {
	r := NewRegistry()
	r.Register(NewReadFile(env.Sandbox))
	r.Register(NewWriteFile(env.Sandbox))
	r.Register(NewStrReplace(env.Sandbox))
	r.Register(NewListFiles(env.Sandbox))
	r.Register(NewPathExists(env.Sandbox))
	r.Register(NewCreateDirectory(env.Sandbox))
	r.Register(NewDeletePath(env.Sandbox))
	r.Register(NewGrepSearch(env.Sandbox))
	r.Register(NewShell(env.Sandbox, env.Processes, env.Events, env.ShellTimeout))
	if env.Processes != nil {
		r.Register(NewProcessManager(env.Sandbox, env.Processes))
	}
	r.Register(NewSubmitPlan())
	r.Register(NewWebSearch(env.SearchEndpoint, env.HTTP))
	return r
}
