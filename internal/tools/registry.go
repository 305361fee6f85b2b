package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/registry"
)

// Entry pairs a domain.ToolRegistryEntry with the executable behind it,
// generalized from the teacher's tools.ToolEntry.
type Entry struct {
	Descriptor domain.ToolRegistryEntry
	Tool       Tool
}

// Registry is the process-wide tool registry of §4.4, wrapping the shared
// generic registry.BaseRegistry exactly as the teacher's ToolRegistry wraps
// its own.
type Registry struct {
	*registry.BaseRegistry[Entry]
	resolver *Resolver
	bus      *obsbus.Bus
}

// NewRegistry creates an empty registry. Attach a Resolver with
// SetResolver to enable bundle-backed auto-registration.
func NewRegistry(bus *obsbus.Bus) *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Entry](), bus: bus}
}

// SetResolver attaches the bundle resolver used on registry misses.
func (r *Registry) SetResolver(res *Resolver) { r.resolver = res }

// RegisterBuiltin registers a concretely-executable builtin tool.
func (r *Registry) RegisterBuiltin(name, description string, security domain.SecurityLevel, capabilities []string, tool Tool) error {
	entry := Entry{
		Descriptor: domain.ToolRegistryEntry{
			Name: name, Description: description, Type: domain.ToolBuiltin,
			Scope: domain.ScopeConcrete, Security: security, Capabilities: capabilities,
		},
		Tool: tool,
	}
	return r.Register(name, entry)
}

// resolve returns the entry for name, consulting the bundle resolver on a
// miss per the §4.4 resolver semantics.
func (r *Registry) resolve(ctx context.Context, name string) (Entry, error) {
	if entry, ok := r.Get(name); ok {
		return entry, nil
	}
	if r.resolver == nil {
		return Entry{}, aerrors.New(aerrors.CodeToolNotFound, aerrors.CategoryTool, aerrors.SeverityMedium,
			fmt.Sprintf("tool %q not found", name))
	}

	entry, err := r.resolver.Resolve(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	// Put rather than Register: another goroutine may have raced us to
	// registration between the Get miss above and this point.
	r.Put(name, entry)
	return entry, nil
}

// authorized reports whether an agent with the given capability set is
// permitted to invoke a tool at the given security level.
func authorized(security domain.SecurityLevel, agentCapabilities []string) bool {
	if security == domain.SecuritySafe {
		return true
	}
	required := "tool:" + string(security)
	for _, c := range agentCapabilities {
		if c == required || c == "tool:*" {
			return true
		}
	}
	return false
}

// Execute resolves and invokes a tool by name, gating on the agent's
// declared capabilities before dispatch per §4.4.
func (r *Registry) Execute(ctx context.Context, sessionID, name string, args map[string]any, agentCapabilities []string) (Result, error) {
	start := time.Now()

	entry, err := r.resolve(ctx, name)
	if err != nil {
		r.publish(sessionID, name, false, time.Since(start), err)
		return Result{Success: false, Error: err.Error(), ToolName: name}, err
	}

	if !authorized(entry.Descriptor.Security, agentCapabilities) {
		err := aerrors.New(aerrors.CodePermissionDenied, aerrors.CategoryPermission, aerrors.SeverityHigh,
			fmt.Sprintf("tool %q requires security level %q", name, entry.Descriptor.Security))
		r.publish(sessionID, name, false, time.Since(start), err)
		return Result{Success: false, Error: err.Error(), ToolName: name}, err
	}

	result, err := entry.Tool.Execute(ctx, args)
	result.ToolName = name
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}

	r.publish(sessionID, name, result.Success, result.ExecutionTime, err)
	return result, err
}

func (r *Registry) publish(sessionID, toolName string, success bool, dur time.Duration, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(obsbus.Event{
		Kind: obsbus.KindToolExecution, SessionID: sessionID, Timestamp: time.Now(),
		Payload: map[string]any{"tool": toolName, "success": success, "duration_ms": dur.Milliseconds(), "error": errString(err)},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ListInfo returns the static Info of every registered tool, sorted by
// name, for inclusion in an LLM's function-calling schema.
func (r *Registry) ListInfo() []Info {
	entries := r.List()
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Tool.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Descriptor returns the domain descriptor for a registered tool.
func (r *Registry) Descriptor(name string) (domain.ToolRegistryEntry, bool) {
	entry, ok := r.Get(name)
	if !ok {
		return domain.ToolRegistryEntry{}, false
	}
	return entry.Descriptor, true
}
