package tasks

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/types"
)

// Func is a task executable. It receives the task's flattened parameters and
// returns none, a path, a JSON-able value, a string or a sequence of those.
// An error is reserved for unexpected faults.
type Func func(ctx context.Context, params map[string]string) (any, error)

// Definition describes a task type.
type Definition struct {
	Type     string
	Required []string
	// Validate checks type-specific parameters. Optional.
	Validate func(params map[string]string) error
	// New returns the executable for a validated spec.
	New func(spec types.TaskSpec) (Func, error)
}

// Registry maps type tags to definitions. It is populated at start-up.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// DefaultRegistry returns a registry holding the built-in task types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(urlsDefinition())
	r.Register(systemDefinition())
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
}

// Types lists registered type tags in order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Resolve validates spec and builds its runner. Unknown types and missing
// required parameters yield ErrConfiguration; invalid values yield
// ErrValidation. The returned spec has Valid set accordingly.
func (r *Registry) Resolve(spec types.TaskSpec) (*Runner, error) {
	spec.Valid = false

	r.mu.RLock()
	def, ok := r.defs[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrConfiguration, spec.Name, "unknown task type %q", spec.Type)
	}
	if !taskNamePattern.MatchString(spec.Name) {
		return nil, types.Errorf(types.ErrConfiguration, spec.Name, "task name must match %s", taskNamePattern)
	}
	for _, p := range def.Required {
		if spec.Params[p] == "" {
			return nil, types.Errorf(types.ErrConfiguration, spec.Name, "missing required parameter %q", p)
		}
	}

	if err := validateCommon(spec.Params); err != nil {
		return nil, types.Wrap(types.ErrValidation, spec.Name, err)
	}
	if def.Validate != nil {
		if err := def.Validate(spec.Params); err != nil {
			return nil, types.Wrap(types.ErrValidation, spec.Name, err)
		}
	}

	fn, err := def.New(spec)
	if err != nil {
		return nil, types.Wrap(types.ErrValidation, spec.Name, err)
	}
	spec.Valid = true
	return &Runner{spec: spec, fn: fn}, nil
}

// validateCommon checks the parameters every task type understands.
func validateCommon(params map[string]string) error {
	if name := params[ParamFileName]; name != "" && !results.ValidFileName(name) {
		return fmt.Errorf("%s must be a plain file name, got %q", ParamFileName, name)
	}
	switch params[ParamSaveAs] {
	case "", results.SaveAsJSON, results.SaveAsJSONList:
	default:
		return fmt.Errorf("%s must be %q or %q", ParamSaveAs, results.SaveAsJSON, results.SaveAsJSONList)
	}
	switch params[ParamWriteFormat] {
	case "", "w", "wb":
	default:
		return fmt.Errorf("%s must be w or wb", ParamWriteFormat)
	}
	if v := params[ParamActive]; v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%s: %w", ParamActive, err)
		}
	}
	if v := params[ParamTimeout]; v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", ParamTimeout, err)
		}
	}
	return nil
}
