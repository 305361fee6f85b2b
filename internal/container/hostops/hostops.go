// Package hostops is the narrow seam between the container lifecycle
// manager and the host OS primitives it needs (namespaces, mounts, veth
// pairs, process control). Kept as an interface per spec.md §1's
// Non-goals ("no virtualization implementation details beyond the
// OS-level primitives required"): the manager only ever calls through
// this contract, so its state-machine and reclamation logic is fully
// testable against the Fake implementation without root or a Linux host.
package hostops

import "context"

// MountSpec describes one overlay mount the manager wants staged.
type MountSpec struct {
	LowerDir string
	UpperDir string
	WorkDir  string
	Target   string
}

// VethPair is a created pair of virtual ethernet endpoints, one of which
// has already been moved into a network namespace.
type VethPair struct {
	HostName      string
	ContainerName string
}

// ProcessHandle is a live handle on a started container process.
type ProcessHandle struct {
	PID int
}

// ExecResult is the captured output of a namespace-scoped exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// HostOps is every OS-level primitive the lifecycle manager needs.
// Implementations must be safe for concurrent use; the manager itself
// serializes per-container calls but the worker pool may run calls for
// different containers concurrently.
type HostOps interface {
	// SupportsOverlay reports whether the host filesystem can mount
	// overlayfs; the manager falls back to direct extraction otherwise.
	SupportsOverlay() bool

	// ExtractImage extracts a compressed tar archive at srcArchive into
	// destDir. Implementations must make this atomic (extract to a temp
	// path, then rename).
	ExtractImage(ctx context.Context, srcArchive, destDir string) error

	// MountOverlay mounts an overlay filesystem per spec.
	MountOverlay(ctx context.Context, spec MountSpec) error
	// Unmount reverses a prior mount; lazy unmount is attempted as a
	// fallback if a plain unmount fails busy.
	Unmount(ctx context.Context, target string) error

	// CreateNamespaces creates the namespaces requested by flags; later
	// calls for the same container refer to them by containerID.
	CreateNamespaces(ctx context.Context, containerID string, flags NamespaceFlags) error
	// DestroyNamespaces releases namespace resources for containerID.
	DestroyNamespaces(ctx context.Context, containerID string) error

	// ApplyCgroupLimits creates/updates the container's cgroup with the
	// given resource limits.
	ApplyCgroupLimits(ctx context.Context, containerID string, memoryMB int, cpuCores float64) error
	// DestroyCgroup removes the container's cgroup.
	DestroyCgroup(ctx context.Context, containerID string) error

	// StartProcess execs command inside the container's namespaces with
	// the given environment and working directory, returning its PID.
	StartProcess(ctx context.Context, containerID string, command []string, env map[string]string, workDir string) (ProcessHandle, error)
	// ExecIn runs command inside containerID's namespaces to completion
	// or ctx's deadline, optionally capturing output.
	ExecIn(ctx context.Context, containerID string, command []string, capture bool) (ExecResult, error)
	// IsAlive reports whether pid is still running.
	IsAlive(pid int) bool
	// Signal sends signal (e.g. "TERM", "KILL") to pid.
	Signal(pid int, signal string) error
	// Wait blocks until pid exits or ctx is done, returning its exit code.
	Wait(ctx context.Context, pid int) (int, error)

	// CreateVethPair creates a pair of virtual ethernet endpoints and
	// moves the container-side end into the container's network
	// namespace, renaming it to containerName.
	CreateVethPair(ctx context.Context, containerID, hostName, containerName string) (VethPair, error)
	// ConfigureContainerNetwork assigns ip/prefix to the container-side
	// veth, brings it up along with loopback, and adds a default route
	// via gateway.
	ConfigureContainerNetwork(ctx context.Context, containerID, vethName, ip, gateway string) error
	// AttachHostVeth attaches the host-side veth to bridge and brings it up.
	AttachHostVeth(ctx context.Context, hostVeth, bridge string) error
	// DeleteHostVeth removes a host-side veth interface.
	DeleteHostVeth(ctx context.Context, hostVeth string) error
	// DeleteContainerVeth removes a container-side veth interface, if
	// the namespace is still reachable.
	DeleteContainerVeth(ctx context.Context, containerID, vethName string) error

	// WatchReadinessFile blocks until path is created/written or ctx is
	// done, using filesystem change notifications rather than polling.
	WatchReadinessFile(ctx context.Context, path string) error
}

// NamespaceFlags selects which Linux namespaces to create.
type NamespaceFlags struct {
	PID bool
	Net bool
	Mnt bool
	UTS bool
	IPC bool
}
