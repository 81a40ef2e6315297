package streaming

import (
	"fmt"
	"sort"
)

type mountEntry struct {
	template *Template
	shared   *Instance
	sessions int
}

// Registry maps mount paths to templates. For shared mounts it also holds the
// live instance, if any.
//
// Registry is not safe for concurrent use; the Controller only touches it
// from its dispatch loop.
type Registry struct {
	executor Executor
	entries  map[string]*mountEntry

	// dropIdle tears down a shared instance left behind by a replaced or
	// removed mount. Set by the instance pool.
	dropIdle func(*Instance)
}

// NewRegistry returns an empty registry validating descriptions with executor.
func NewRegistry(executor Executor) *Registry {
	return &Registry{
		executor: executor,
		entries:  make(map[string]*mountEntry),
	}
}

// check normalises t and validates it without touching the registry.
func (r *Registry) check(t Template) (*Template, error) {
	path, err := NormalizeMountPath(t.MountPath)
	if err != nil {
		return nil, &TemplateError{MountPath: t.MountPath, Err: err}
	}
	if t.Description == "" {
		return nil, &TemplateError{MountPath: path, Err: &EngineError{
			Op:     "validate",
			Kind:   ErrValidationFailed,
			Reason: fmt.Errorf("empty description"),
		}}
	}
	sharing := t.Sharing
	if sharing != SharingShared && sharing != SharingPerClient {
		if sharing, err = ParseSharing(string(t.Sharing)); err != nil {
			return nil, &TemplateError{MountPath: path, Err: err}
		}
	}
	if err := r.executor.Validate(t.Description); err != nil {
		return nil, &TemplateError{MountPath: path, Err: &EngineError{
			Op:     "validate",
			Kind:   ErrValidationFailed,
			Reason: err,
		}}
	}
	return &Template{MountPath: path, Description: t.Description, Sharing: sharing}, nil
}

// Register adds t, replacing a previous template for the same path when that
// mount has no active sessions.
func (r *Registry) Register(t Template) error {
	if path, err := NormalizeMountPath(t.MountPath); err == nil {
		if e, ok := r.entries[path]; ok && e.sessions > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateMount, path)
		}
	}

	tpl, err := r.check(t)
	if err != nil {
		return err
	}

	if e, ok := r.entries[tpl.MountPath]; ok {
		r.drop(e)
	}
	r.entries[tpl.MountPath] = &mountEntry{template: tpl}
	return nil
}

// RegisterAll registers every template or none. Validation of the whole batch
// happens before the first insertion.
func (r *Registry) RegisterAll(ts []Template) error {
	checked := make([]*Template, 0, len(ts))
	seen := make(map[string]struct{}, len(ts))

	for _, t := range ts {
		tpl, err := r.check(t)
		if err != nil {
			return err
		}
		if _, dup := seen[tpl.MountPath]; dup {
			return &TemplateError{MountPath: tpl.MountPath, Err: fmt.Errorf("mount path listed twice")}
		}
		if e, ok := r.entries[tpl.MountPath]; ok && e.sessions > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateMount, tpl.MountPath)
		}
		seen[tpl.MountPath] = struct{}{}
		checked = append(checked, tpl)
	}

	for _, tpl := range checked {
		if e, ok := r.entries[tpl.MountPath]; ok {
			r.drop(e)
		}
		r.entries[tpl.MountPath] = &mountEntry{template: tpl}
	}
	return nil
}

// Unregister removes the mount at path. It fails while sessions are bound.
func (r *Registry) Unregister(path string) error {
	path, err := NormalizeMountPath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMountNotFound, err)
	}
	e, ok := r.entries[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMountNotFound, path)
	}
	if e.sessions > 0 || (e.shared != nil && e.shared.RefCount > 0) {
		return fmt.Errorf("%w: %s has %d sessions", ErrMountInUse, path, e.sessions)
	}
	r.drop(e)
	delete(r.entries, path)
	return nil
}

// Resolve returns the template registered at path.
func (r *Registry) Resolve(path string) (*Template, bool) {
	path, err := NormalizeMountPath(path)
	if err != nil {
		return nil, false
	}
	e, ok := r.entries[path]
	if !ok {
		return nil, false
	}
	return e.template, true
}

// List returns the registered mounts sorted by path.
func (r *Registry) List() []MountInfo {
	out := make([]MountInfo, 0, len(r.entries))
	for _, e := range r.entries {
		mi := MountInfo{Template: *e.template, Sessions: e.sessions}
		if e.shared != nil {
			mi.SharedInstance = e.shared.ID
		}
		out = append(out, mi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MountPath < out[j].MountPath })
	return out
}

// Templates returns the registered templates sorted by path.
func (r *Registry) Templates() []Template {
	mounts := r.List()
	out := make([]Template, len(mounts))
	for i, m := range mounts {
		out[i] = m.Template
	}
	return out
}

// Len returns the number of registered mounts.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Clear forgets every mount. The caller must have released all instances.
func (r *Registry) Clear() {
	r.entries = make(map[string]*mountEntry)
}

// sessionCount returns how many sessions are bound to path.
func (r *Registry) sessionCount(path string) int {
	if e, ok := r.entries[path]; ok {
		return e.sessions
	}
	return 0
}

func (r *Registry) bind(path string) {
	if e, ok := r.entries[path]; ok {
		e.sessions++
	}
}

func (r *Registry) unbind(path string) {
	if e, ok := r.entries[path]; ok && e.sessions > 0 {
		e.sessions--
	}
}

func (r *Registry) sharedInstance(path string) *Instance {
	if e, ok := r.entries[path]; ok {
		return e.shared
	}
	return nil
}

func (r *Registry) setShared(path string, inst *Instance) {
	if e, ok := r.entries[path]; ok {
		e.shared = inst
	}
}

// clearShared empties the slot only if it still holds inst.
func (r *Registry) clearShared(path string, inst *Instance) {
	if e, ok := r.entries[path]; ok && e.shared == inst {
		e.shared = nil
	}
}

func (r *Registry) drop(e *mountEntry) {
	if e.shared == nil {
		return
	}
	inst := e.shared
	e.shared = nil
	if inst.RefCount == 0 && r.dropIdle != nil {
		r.dropIdle(inst)
	}
}
