package streaming

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"rtsp-orchestrator/internal/platform/metrics"
)

// InstancePool creates, shares and tears down pipeline instances.
//
// Like Registry it is owned by the Controller and mutated only from the
// dispatch loop, so it carries no lock.
type InstancePool struct {
	executor Executor
	registry *Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	// teardownTimeout bounds a single executor Teardown call. Zero waits forever.
	teardownTimeout time.Duration

	instances map[string]*Instance
}

// NewInstancePool returns a pool that records shared instances in registry.
func NewInstancePool(executor Executor, registry *Registry, log *slog.Logger, m *metrics.Metrics) *InstancePool {
	p := &InstancePool{
		executor:  executor,
		registry:  registry,
		log:       log,
		metrics:   m,
		instances: make(map[string]*Instance),
	}
	registry.dropIdle = func(inst *Instance) {
		if err := p.ForceStop(inst); err != nil {
			p.log.Error("teardown of replaced mount instance failed",
				slog.String("instance_id", inst.ID),
				slog.String("error", err.Error()))
		}
	}
	return p
}

// Acquire returns an instance of t with one more reference. Shared templates
// reuse the mount's live instance; per-client templates always get a new one.
func (p *InstancePool) Acquire(t *Template) (*Instance, error) {
	if t.Sharing == SharingShared {
		if inst := p.registry.sharedInstance(t.MountPath); inst != nil &&
			(inst.State == InstanceCreated || inst.State == InstanceRunning) {
			inst.RefCount++
			return inst, nil
		}
	}

	inst := &Instance{
		ID:        uuid.NewString(),
		Template:  t,
		State:     InstanceCreated,
		CreatedAt: time.Now().UTC(),
	}

	h, err := p.executor.Instantiate(t.Description)
	if err != nil {
		p.metrics.IncEngineErrors("instantiate")
		p.log.Warn("pipeline instantiation failed",
			slog.String("mount_path", t.MountPath),
			slog.String("error", err.Error()))
		return nil, &EngineError{Op: "instantiate", Kind: ErrInstantiationFailed, Reason: err}
	}

	inst.Engine = h
	inst.State = InstanceRunning
	inst.RefCount = 1
	p.instances[inst.ID] = inst
	if t.Sharing == SharingShared {
		p.registry.setShared(t.MountPath, inst)
	}
	p.metrics.IncInstancesStarted()

	p.log.Info("pipeline instance running",
		slog.String("instance_id", inst.ID),
		slog.String("engine_id", h.ID()),
		slog.String("mount_path", t.MountPath),
		slog.String("sharing", string(t.Sharing)))
	return inst, nil
}

// Release drops one reference. The last reference stops the instance.
// Teardown errors are returned for logging only; the instance is gone either way.
func (p *InstancePool) Release(inst *Instance) error {
	if inst == nil || inst.State == InstanceStopping || inst.State == InstanceStopped {
		return nil
	}
	if inst.RefCount > 0 {
		inst.RefCount--
	}
	if inst.RefCount > 0 {
		return nil
	}
	return p.stop(inst, "released")
}

// ForceStop stops inst regardless of its reference count.
func (p *InstancePool) ForceStop(inst *Instance) error {
	if inst == nil || inst.State == InstanceStopping || inst.State == InstanceStopped {
		return nil
	}
	inst.RefCount = 0
	return p.stop(inst, "forced")
}

// ForceStopAll stops every instance still in the pool and returns the
// accumulated teardown errors.
func (p *InstancePool) ForceStopAll() error {
	var result *multierror.Error
	for _, inst := range p.sorted() {
		if err := p.ForceStop(inst); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Len returns the number of live instances.
func (p *InstancePool) Len() int {
	return len(p.instances)
}

// List returns snapshots of the live instances, oldest first.
func (p *InstancePool) List() []InstanceInfo {
	insts := p.sorted()
	out := make([]InstanceInfo, len(insts))
	for i, inst := range insts {
		out[i] = inst.info()
	}
	return out
}

func (p *InstancePool) sorted() []*Instance {
	out := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (p *InstancePool) stop(inst *Instance, reason string) error {
	inst.State = InstanceStopping
	err := p.teardown(inst)
	inst.State = InstanceStopped

	delete(p.instances, inst.ID)
	p.registry.clearShared(inst.Template.MountPath, inst)
	p.metrics.IncInstancesStopped()

	if err != nil {
		p.metrics.IncEngineErrors("teardown")
		err = fmt.Errorf("teardown instance %s: %w", inst.ID, err)
	}
	p.log.Info("pipeline instance stopped",
		slog.String("instance_id", inst.ID),
		slog.String("mount_path", inst.Template.MountPath),
		slog.String("reason", reason))
	return err
}

// teardown calls the executor and stops waiting after teardownTimeout.
func (p *InstancePool) teardown(inst *Instance) error {
	if p.teardownTimeout <= 0 {
		return p.executor.Teardown(inst.Engine)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- p.executor.Teardown(inst.Engine)
	}()

	timer := time.NewTimer(p.teardownTimeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return fmt.Errorf("engine did not confirm teardown within %s", p.teardownTimeout)
	}
}
