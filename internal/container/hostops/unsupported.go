//go:build !linux

package hostops

import (
	"context"
	"fmt"
)

// Linux is unavailable on non-Linux hosts; NewLinux panics so a
// misconfigured build fails loudly at startup rather than silently no-op.
type Linux struct{}

// NewLinux panics outside Linux; use Fake for development on other hosts.
func NewLinux() *Linux {
	panic(fmt.Sprintf("hostops: the Linux implementation is unavailable on this platform"))
}

func (l *Linux) SupportsOverlay() bool { return false }
func (l *Linux) ExtractImage(ctx context.Context, srcArchive, destDir string) error {
	return errUnsupported
}
func (l *Linux) MountOverlay(ctx context.Context, spec MountSpec) error { return errUnsupported }
func (l *Linux) Unmount(ctx context.Context, target string) error      { return errUnsupported }
func (l *Linux) CreateNamespaces(ctx context.Context, containerID string, flags NamespaceFlags) error {
	return errUnsupported
}
func (l *Linux) DestroyNamespaces(ctx context.Context, containerID string) error {
	return errUnsupported
}
func (l *Linux) ApplyCgroupLimits(ctx context.Context, containerID string, memoryMB int, cpuCores float64) error {
	return errUnsupported
}
func (l *Linux) DestroyCgroup(ctx context.Context, containerID string) error { return errUnsupported }
func (l *Linux) StartProcess(ctx context.Context, containerID string, command []string, env map[string]string, workDir string) (ProcessHandle, error) {
	return ProcessHandle{}, errUnsupported
}
func (l *Linux) ExecIn(ctx context.Context, containerID string, command []string, capture bool) (ExecResult, error) {
	return ExecResult{}, errUnsupported
}
func (l *Linux) IsAlive(pid int) bool             { return false }
func (l *Linux) Signal(pid int, signal string) error { return errUnsupported }
func (l *Linux) Wait(ctx context.Context, pid int) (int, error) { return -1, errUnsupported }
func (l *Linux) CreateVethPair(ctx context.Context, containerID, hostName, containerName string) (VethPair, error) {
	return VethPair{}, errUnsupported
}
func (l *Linux) ConfigureContainerNetwork(ctx context.Context, containerID, vethName, ip, gateway string) error {
	return errUnsupported
}
func (l *Linux) AttachHostVeth(ctx context.Context, hostVeth, bridge string) error { return errUnsupported }
func (l *Linux) DeleteHostVeth(ctx context.Context, hostVeth string) error         { return errUnsupported }
func (l *Linux) DeleteContainerVeth(ctx context.Context, containerID, vethName string) error {
	return errUnsupported
}
func (l *Linux) WatchReadinessFile(ctx context.Context, path string) error { return errUnsupported }

var errUnsupported = fmt.Errorf("hostops: Linux HostOps unavailable on this platform")
