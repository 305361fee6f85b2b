package container

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/container/hostops"
	"github.com/ariacorp/ariarun/internal/domain"
)

// ipAllocator hands out IPv4 addresses from a configured range
// (§4.5.3, default 172.16.0.10-172.16.0.250).
type ipAllocator struct {
	mu       sync.Mutex
	lo, hi   uint32
	next     uint32
	byID     map[string]string
	byIP     map[string]bool
}

func newIPAllocator(lo, hi string) *ipAllocator {
	loN := ipToUint32(net.ParseIP(lo))
	hiN := ipToUint32(net.ParseIP(hi))
	return &ipAllocator{lo: loN, hi: hiN, next: loN, byID: map[string]string{}, byIP: map[string]bool{}}
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(n uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func (a *ipAllocator) allocate(containerID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for n := a.next; n <= a.hi; n++ {
		ip := uint32ToIP(n)
		if !a.byIP[ip] {
			a.byIP[ip] = true
			a.byID[containerID] = ip
			a.next = n + 1
			return ip, nil
		}
	}
	for n := a.lo; n < a.next; n++ {
		ip := uint32ToIP(n)
		if !a.byIP[ip] {
			a.byIP[ip] = true
			a.byID[containerID] = ip
			return ip, nil
		}
	}
	return "", fmt.Errorf("container: network range exhausted")
}

func (a *ipAllocator) release(containerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ip, ok := a.byID[containerID]; ok {
		delete(a.byIP, ip)
		delete(a.byID, containerID)
	}
}

// setupNetwork creates the veth pair, moves and configures the
// container-side end, attaches the host side to the bridge, and rolls
// back in reverse order on any failure (§4.5.3).
func (m *Manager) setupNetwork(ctx context.Context, record *domain.ContainerRecord) error {
	alloc, err := m.store.GetNetworkAllocation(ctx, record.ID)
	if err != nil {
		return aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "read network allocation", err)
	}

	pair, err := m.host.CreateVethPair(ctx, record.ID, alloc.HostVeth, alloc.ContainerVeth)
	if err != nil {
		return m.rollbackNetwork(ctx, record.ID, alloc, aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "create veth pair", err))
	}

	if err := m.host.ConfigureContainerNetwork(ctx, record.ID, pair.ContainerName, alloc.IPAddress+"/24", m.cfg.BridgeHostIP); err != nil {
		return m.rollbackNetwork(ctx, record.ID, alloc, aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "configure container network", err))
	}

	if err := m.host.AttachHostVeth(ctx, pair.HostName, m.cfg.Bridge); err != nil {
		return m.rollbackNetwork(ctx, record.ID, alloc, aerrors.Wrap(aerrors.CodeNetworkSetupFailed, aerrors.CategoryContainer, aerrors.SeverityHigh, "attach host veth to bridge", err))
	}

	alloc.SetupComplete = true
	alloc.Status = domain.AllocActive
	if err := m.store.UpsertNetworkAllocation(ctx, alloc); err != nil {
		return aerrors.Wrap(aerrors.CodeDatabaseError, aerrors.CategoryPersistence, aerrors.SeverityMedium, "mark network allocation active", err)
	}
	return nil
}

// rollbackNetwork undoes a partially completed network setup in reverse
// order (host veth → ip release → mark cleaned), never aborting later
// steps on an earlier failure, and returns the original cause.
func (m *Manager) rollbackNetwork(ctx context.Context, containerID string, alloc domain.NetworkAllocation, cause error) error {
	if err := m.host.DeleteHostVeth(ctx, alloc.HostVeth); err != nil {
		m.log.Warn("rollback: delete host veth failed", "container_id", containerID, "error", err)
	}
	m.network.release(containerID)
	alloc.Status = domain.AllocCleaned
	if err := m.store.UpsertNetworkAllocation(ctx, alloc); err != nil {
		m.log.Warn("rollback: mark allocation cleaned failed", "container_id", containerID, "error", err)
	}
	return cause
}

// teardownNetwork releases network resources during resource reclamation
// (§4.5.6 step 4): container-side veth if the namespace is still
// reachable, then the host-side veth, then mark the allocation cleaned.
func (m *Manager) teardownNetwork(ctx context.Context, host hostops.HostOps, record domain.ContainerRecord) {
	alloc, err := m.store.GetNetworkAllocation(ctx, record.ID)
	if err != nil {
		return
	}
	if err := host.DeleteContainerVeth(ctx, record.ID, alloc.ContainerVeth); err != nil {
		m.log.Warn("reclaim: delete container veth failed", "container_id", record.ID, "error", err)
	}
	if err := host.DeleteHostVeth(ctx, alloc.HostVeth); err != nil {
		m.log.Warn("reclaim: delete host veth failed", "container_id", record.ID, "error", err)
	}
	m.network.release(record.ID)
	alloc.Status = domain.AllocCleaned
	if err := m.store.UpsertNetworkAllocation(ctx, alloc); err != nil {
		m.log.Warn("reclaim: mark allocation cleaned failed", "container_id", record.ID, "error", err)
	}
}
