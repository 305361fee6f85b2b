package hostops

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fake is an in-memory HostOps used by tests and by non-Linux
// development builds. It never touches the real OS.
type Fake struct {
	mu        sync.Mutex
	alive     map[int]bool
	nextPID   atomic.Int64
	Overlay   bool
	FailStart bool
	FailNS    bool
}

// NewFake builds a Fake with overlay support enabled.
func NewFake() *Fake {
	f := &Fake{alive: map[int]bool{}, Overlay: true}
	f.nextPID.Store(1000)
	return f
}

func (f *Fake) SupportsOverlay() bool { return f.Overlay }

func (f *Fake) ExtractImage(ctx context.Context, srcArchive, destDir string) error { return nil }

func (f *Fake) MountOverlay(ctx context.Context, spec MountSpec) error { return nil }

func (f *Fake) Unmount(ctx context.Context, target string) error { return nil }

func (f *Fake) CreateNamespaces(ctx context.Context, containerID string, flags NamespaceFlags) error {
	if f.FailNS {
		return fmt.Errorf("fake: namespace creation failed")
	}
	return nil
}

func (f *Fake) DestroyNamespaces(ctx context.Context, containerID string) error { return nil }

func (f *Fake) ApplyCgroupLimits(ctx context.Context, containerID string, memoryMB int, cpuCores float64) error {
	return nil
}

func (f *Fake) DestroyCgroup(ctx context.Context, containerID string) error { return nil }

func (f *Fake) StartProcess(ctx context.Context, containerID string, command []string, env map[string]string, workDir string) (ProcessHandle, error) {
	if f.FailStart {
		return ProcessHandle{}, fmt.Errorf("fake: start failed")
	}
	pid := int(f.nextPID.Add(1))
	f.mu.Lock()
	f.alive[pid] = true
	f.mu.Unlock()
	return ProcessHandle{PID: pid}, nil
}

func (f *Fake) ExecIn(ctx context.Context, containerID string, command []string, capture bool) (ExecResult, error) {
	out := ""
	if capture {
		out = "ok"
	}
	return ExecResult{ExitCode: 0, Stdout: out}, nil
}

func (f *Fake) IsAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *Fake) Signal(pid int, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if signal == "KILL" || signal == "TERM" {
		delete(f.alive, pid)
	}
	return nil
}

func (f *Fake) Wait(ctx context.Context, pid int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
	return 0, nil
}

// Kill marks pid as exited, for tests simulating an external process death.
func (f *Fake) Kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

func (f *Fake) CreateVethPair(ctx context.Context, containerID, hostName, containerName string) (VethPair, error) {
	return VethPair{HostName: hostName, ContainerName: containerName}, nil
}

func (f *Fake) ConfigureContainerNetwork(ctx context.Context, containerID, vethName, ip, gateway string) error {
	return nil
}

func (f *Fake) AttachHostVeth(ctx context.Context, hostVeth, bridge string) error { return nil }

func (f *Fake) DeleteHostVeth(ctx context.Context, hostVeth string) error { return nil }

func (f *Fake) DeleteContainerVeth(ctx context.Context, containerID, vethName string) error {
	return nil
}

func (f *Fake) WatchReadinessFile(ctx context.Context, path string) error { return nil }
