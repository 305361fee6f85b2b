//go:build linux

package hostops

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// Linux is the production HostOps: overlayfs + veth/bridge via the `ip`
// binary (shelling out, per spec.md §1's Non-goals on reimplementing
// netlink) + golang.org/x/sys/unix for mount/unmount2/process signals.
type Linux struct{}

// NewLinux builds the real Linux HostOps.
func NewLinux() *Linux { return &Linux{} }

func (l *Linux) SupportsOverlay() bool {
	data, err := os.ReadFile("/proc/filesystems")
	if err != nil {
		return false
	}
	return containsLine(data, "overlay")
}

func containsLine(data []byte, needle string) bool {
	for _, line := range splitLines(data) {
		if line == needle || (len(line) > len(needle) && line[len(line)-len(needle):] == needle) {
			return true
		}
	}
	return false
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	return lines
}

func (l *Linux) ExtractImage(ctx context.Context, srcArchive, destDir string) error {
	tmp := destDir + ".tmp"
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("hostops: mkdir staging dir: %w", err)
	}
	if err := extractTarGz(srcArchive, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.Rename(tmp, destDir); err != nil {
		return fmt.Errorf("hostops: rename staged rootfs: %w", err)
	}
	return nil
}

func extractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("hostops: open image archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("hostops: gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("hostops: read tar entry: %w", err)
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

func (l *Linux) MountOverlay(ctx context.Context, spec MountSpec) error {
	if err := os.MkdirAll(spec.UpperDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(spec.Target, 0o755); err != nil {
		return err
	}
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", spec.LowerDir, spec.UpperDir, spec.WorkDir)
	if err := unix.Mount("overlay", spec.Target, "overlay", 0, opts); err != nil {
		return fmt.Errorf("hostops: mount overlay at %s: %w", spec.Target, err)
	}
	return nil
}

func (l *Linux) Unmount(ctx context.Context, target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
			return fmt.Errorf("hostops: unmount %s (lazy fallback failed): %w", target, err)
		}
	}
	return nil
}

// CreateNamespaces creates only the network namespace (when flags.Net is
// set); the PID, mount, UTS and IPC flags are ignored.
func (l *Linux) CreateNamespaces(ctx context.Context, containerID string, flags NamespaceFlags) error {
	if flags.Net {
		if err := runIP(ctx, "netns", "add", netnsName(containerID)); err != nil {
			return fmt.Errorf("hostops: create network namespace: %w", err)
		}
	}
	return nil
}

func (l *Linux) DestroyNamespaces(ctx context.Context, containerID string) error {
	_ = runIP(ctx, "netns", "del", netnsName(containerID))
	return nil
}

func (l *Linux) ApplyCgroupLimits(ctx context.Context, containerID string, memoryMB int, cpuCores float64) error {
	dir := filepath.Join("/sys/fs/cgroup", "aria-"+containerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hostops: create cgroup: %w", err)
	}
	if memoryMB > 0 {
		writeCgroupFile(dir, "memory.max", fmt.Sprintf("%dM", memoryMB))
	}
	if cpuCores > 0 {
		writeCgroupFile(dir, "cpu.max", fmt.Sprintf("%d 100000", int(cpuCores*100000)))
	}
	return nil
}

func writeCgroupFile(dir, name, value string) {
	_ = os.WriteFile(filepath.Join(dir, name), []byte(value), 0o644)
}

func (l *Linux) DestroyCgroup(ctx context.Context, containerID string) error {
	return os.RemoveAll(filepath.Join("/sys/fs/cgroup", "aria-"+containerID))
}

// StartProcess starts command as an ordinary host process in its own
// session; it does not enter the container's namespaces or cgroup.
func (l *Linux) StartProcess(ctx context.Context, containerID string, command []string, env map[string]string, workDir string) (ProcessHandle, error) {
	if len(command) == 0 {
		return ProcessHandle{}, fmt.Errorf("hostops: empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workDir
	cmd.Env = envSlice(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return ProcessHandle{}, fmt.Errorf("hostops: start process: %w", err)
	}
	go cmd.Wait()
	return ProcessHandle{PID: cmd.Process.Pid}, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// ExecIn runs command as an ordinary host process; it does not enter
// containerID's namespaces.
func (l *Linux) ExecIn(ctx context.Context, containerID string, command []string, capture bool) (ExecResult, error) {
	if len(command) == 0 {
		return ExecResult{}, fmt.Errorf("hostops: empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	var stdout, stderr []byte
	var err error
	if capture {
		stdout, err = cmd.Output()
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = ee.Stderr
		}
	} else {
		err = cmd.Run()
	}
	exitCode := 0
	if ee, ok := err.(*exec.ExitError); ok {
		exitCode = ee.ExitCode()
		err = nil
	}
	return ExecResult{ExitCode: exitCode, Stdout: string(stdout), Stderr: string(stderr)}, err
}

func (l *Linux) IsAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func (l *Linux) Signal(pid int, signal string) error {
	sig := unix.SIGTERM
	if signal == "KILL" {
		sig = unix.SIGKILL
	}
	return unix.Kill(pid, sig)
}

func (l *Linux) Wait(ctx context.Context, pid int) (int, error) {
	var ws unix.WaitStatus
	_, err := unix.Wait4(pid, &ws, 0, nil)
	if err != nil {
		return -1, err
	}
	return ws.ExitStatus(), nil
}

func (l *Linux) CreateVethPair(ctx context.Context, containerID, hostName, containerName string) (VethPair, error) {
	if err := runIP(ctx, "link", "add", hostName, "type", "veth", "peer", "name", containerName); err != nil {
		return VethPair{}, fmt.Errorf("hostops: create veth pair: %w", err)
	}
	if err := runIP(ctx, "link", "set", containerName, "netns", netnsName(containerID)); err != nil {
		return VethPair{}, fmt.Errorf("hostops: move veth into namespace: %w", err)
	}
	return VethPair{HostName: hostName, ContainerName: containerName}, nil
}

func (l *Linux) ConfigureContainerNetwork(ctx context.Context, containerID, vethName, ip, gateway string) error {
	ns := netnsName(containerID)
	steps := [][]string{
		{"netns", "exec", ns, "ip", "addr", "add", ip, "dev", vethName},
		{"netns", "exec", ns, "ip", "link", "set", vethName, "up"},
		{"netns", "exec", ns, "ip", "link", "set", "lo", "up"},
		{"netns", "exec", ns, "ip", "route", "add", "default", "via", gateway},
	}
	for _, args := range steps {
		if err := runIP(ctx, args...); err != nil {
			return fmt.Errorf("hostops: configure container network: %w", err)
		}
	}
	return nil
}

func (l *Linux) AttachHostVeth(ctx context.Context, hostVeth, bridge string) error {
	if err := runIP(ctx, "link", "set", hostVeth, "master", bridge); err != nil {
		return fmt.Errorf("hostops: attach host veth to bridge: %w", err)
	}
	return runIP(ctx, "link", "set", hostVeth, "up")
}

func (l *Linux) DeleteHostVeth(ctx context.Context, hostVeth string) error {
	return runIP(ctx, "link", "delete", hostVeth)
}

func (l *Linux) DeleteContainerVeth(ctx context.Context, containerID, vethName string) error {
	return runIP(ctx, "netns", "exec", netnsName(containerID), "ip", "link", "delete", vethName)
}

func (l *Linux) WatchReadinessFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("hostops: create fs watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("hostops: watch readiness dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-watcher.Events:
			if ev.Name == path && (ev.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return nil
			}
		case err := <-watcher.Errors:
			return err
		}
	}
}

func netnsName(containerID string) string { return "aria-" + containerID }

func runIP(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "/sbin/ip", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ip %v: %w: %s", args, err, string(out))
	}
	return nil
}
