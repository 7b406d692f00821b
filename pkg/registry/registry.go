// Package registry tracks in-flight executions and attributes engine bus events to them.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/models"
)

// TraceSink accepts records for one execution without blocking.
type TraceSink interface {
	Enqueue(record models.TraceRecord) error
}

// Registration is the routing metadata of one in-flight execution. It is
// never mutated once stored; re-registering replaces it.
type Registration struct {
	ExecutionID      string
	AgentIdentifiers map[string]struct{}
	Group            *models.GroupContext
	Sink             TraceSink
	RegisteredAt     time.Time

	seq uint64
}

// Info is a read-only view of a registration for diagnostics.
type Info struct {
	ExecutionID      string    `json:"execution_id"`
	AgentIdentifiers []string  `json:"agent_identifiers"`
	GroupID          string    `json:"group_id,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

type Registry struct {
	logger *slog.Logger
	bus    framework.Bus

	mu            sync.RWMutex
	registrations map[string]*Registration
	seq           uint64
	subscribed    bool
	closed        bool

	subscriptionCtx    context.Context
	cancelSubscription context.CancelFunc
}

func New(bus framework.Bus, logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		logger:             logger.With("module", "execution_registry"),
		bus:                bus,
		registrations:      make(map[string]*Registration),
		subscriptionCtx:    ctx,
		cancelSubscription: cancel,
	}
}

// Register stores the routing metadata of executionID, replacing any
// previous entry, and installs the bus subscriber on first use.
func (r *Registry) Register(executionID string, agentIdentifiers []string, group *models.GroupContext, sink TraceSink) {
	defer r.recoverAndLog("register", executionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerLocked(executionID, agentIdentifiers, group, sink)
}

// RegisterExclusive registers executionID only when no other active execution
// shares one of its agent identifiers. The check and the insert happen under
// the same lock. It returns the conflicting execution ids, sorted; an empty
// result means the execution was registered.
func (r *Registry) RegisterExclusive(
	executionID string,
	agentIdentifiers []string,
	group *models.GroupContext,
	sink TraceSink,
) (conflicts []string) {
	defer r.recoverAndLog("register_exclusive", executionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	conflicts = r.conflictsLocked(executionID, agentIdentifiers)
	if len(conflicts) > 0 {
		r.logger.Warn("Execution rejected, agent identifiers in use",
			"execution_id", executionID,
			"agents", agentIdentifiers,
			"conflicts", conflicts,
		)

		return conflicts
	}

	r.registerLocked(executionID, agentIdentifiers, group, sink)

	return nil
}

func (r *Registry) registerLocked(executionID string, agentIdentifiers []string, group *models.GroupContext, sink TraceSink) {
	identifiers := make(map[string]struct{}, len(agentIdentifiers))
	for _, identifier := range agentIdentifiers {
		if identifier != "" {
			identifiers[identifier] = struct{}{}
		}
	}

	r.ensureSubscribedLocked()

	seq := r.nextSeqLocked()
	if existing, ok := r.registrations[executionID]; ok {
		seq = existing.seq
	}

	r.registrations[executionID] = &Registration{
		ExecutionID:      executionID,
		AgentIdentifiers: identifiers,
		Group:            group,
		Sink:             sink,
		RegisteredAt:     time.Now().UTC(),
		seq:              seq,
	}

	r.logger.Debug("Execution registered",
		"execution_id", executionID,
		"agents", agentIdentifiers,
		"active", len(r.registrations),
	)
}

// Unregister removes executionID. Absent ids are ignored.
func (r *Registry) Unregister(executionID string) {
	defer r.recoverAndLog("unregister", executionID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registrations[executionID]; !ok {
		return
	}

	delete(r.registrations, executionID)

	r.logger.Debug("Execution unregistered", "execution_id", executionID, "active", len(r.registrations))
}

// ActiveAgentIdentifiers returns the union of identifiers of all active
// executions, sorted.
func (r *Registry) ActiveAgentIdentifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, registration := range r.registrations {
		for identifier := range registration.AgentIdentifiers {
			seen[identifier] = struct{}{}
		}
	}

	return sortedKeys(seen)
}

// conflictsLocked returns the ids of active executions other than self that
// share at least one agent identifier with agentIdentifiers, sorted.
func (r *Registry) conflictsLocked(self string, agentIdentifiers []string) []string {
	conflicts := make(map[string]struct{})

	for _, identifier := range agentIdentifiers {
		if identifier == "" {
			continue
		}

		for id, registration := range r.registrations {
			if id == self {
				continue
			}

			if _, ok := registration.AgentIdentifiers[identifier]; ok {
				conflicts[id] = struct{}{}
			}
		}
	}

	return sortedKeys(conflicts)
}

// Snapshot lists the active executions in registration order.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	registrations := make([]*Registration, 0, len(r.registrations))

	for _, registration := range r.registrations {
		registrations = append(registrations, registration)
	}
	r.mu.RUnlock()

	sortBySeq(registrations)

	infos := make([]Info, 0, len(registrations))
	for _, registration := range registrations {
		infos = append(infos, Info{
			ExecutionID:      registration.ExecutionID,
			AgentIdentifiers: sortedKeys(registration.AgentIdentifiers),
			GroupID:          registration.Group.ID(),
			RegisteredAt:     registration.RegisteredAt,
		})
	}

	return infos
}

// Close stops routing bus events. Call it once, at process exit.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cancelSubscription()

	return nil
}

func (r *Registry) ensureSubscribedLocked() {
	if r.subscribed || r.closed {
		return
	}

	if r.bus == nil {
		r.logger.Warn("No engine bus configured, global events will not be attributed")
		r.subscribed = true

		return
	}

	err := r.bus.Subscribe(r.subscriptionCtx, r.HandleEvent)
	if err != nil {
		r.logger.Error("Failed to install global event subscriber", "error", err)

		return
	}

	r.subscribed = true
	r.logger.Info("Global event subscriber installed")
}

func (r *Registry) nextSeqLocked() uint64 {
	r.seq++

	return r.seq
}

// match returns the registrations whose identifiers contain identifier,
// earliest registered first.
func (r *Registry) match(identifier string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Registration

	for _, registration := range r.registrations {
		if _, ok := registration.AgentIdentifiers[identifier]; ok {
			matches = append(matches, registration)
		}
	}

	sortBySeq(matches)

	return matches
}

func (r *Registry) recoverAndLog(op, executionID string) {
	if rec := recover(); rec != nil {
		r.logger.Error("Recovered from registry panic", "op", op, "execution_id", executionID, "panic", rec)
	}
}

func sortBySeq(registrations []*Registration) {
	sort.Slice(registrations, func(i, j int) bool {
		return registrations[i].seq < registrations[j].seq
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
