package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ariacorp/ariarun/internal/container/hostops"
	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/obsbus"
	"github.com/ariacorp/ariarun/internal/persistence"
)

// fakeImage writes a placeholder file to stand in for a real image
// archive — fingerprint() only needs something it can os.Stat.
func fakeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake.tar.gz")
	if err := os.WriteFile(path, []byte("fake image"), 0o644); err != nil {
		t.Fatalf("write fake image: %v", err)
	}
	return path
}

func newTestManager(t *testing.T) (*Manager, *hostops.Fake) {
	t.Helper()
	pool := persistence.NewDBPool()
	t.Cleanup(func() { pool.Close() })

	db, err := pool.Get(persistence.DBConfig{Driver: "sqlite3", DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := persistence.ApplyMigrations(context.Background(), db, persistence.UserMigrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	store := persistence.NewStore(db)
	fake := hostops.NewFake()
	mgr := NewManager(Config{MonitorInterval: 20 * time.Millisecond, StopGrace: 50 * time.Millisecond}, store, obsbus.New(16), fake, nil)
	return mgr, fake
}

func waitForState(t *testing.T, mgr *Manager, id string, want domain.ContainerState, timeout time.Duration) domain.ContainerRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		record, err := mgr.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if record.State == want {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("container %s never reached state %s", id, want)
	return domain.ContainerRecord{}
}

func TestCreateContainerReachesRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{
		Image: fakeImage(t), Command: []string{"echo", "hi"},
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}

	record := waitForState(t, mgr, id, domain.ContainerRunning, time.Second)
	if record.PID == 0 {
		t.Fatal("expected a pid to be recorded")
	}
}

func TestCreateContainerRejectsEmptySpec(t *testing.T) {
	mgr, _ := newTestManager(t)
	if _, err := mgr.CreateContainer(context.Background(), "u1", "s1", domain.ContainerSpec{}); err == nil {
		t.Fatal("expected validation error for empty spec")
	}
}

func TestStopThenRemoveReclaimsContainer(t *testing.T) {
	mgr, fake := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{
		Image: fakeImage(t), Command: []string{"sleep", "100"},
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	waitForState(t, mgr, id, domain.ContainerRunning, time.Second)

	if err := mgr.StopContainer(ctx, id); err != nil {
		t.Fatalf("stop container: %v", err)
	}
	record, err := mgr.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if record.State != domain.ContainerStopped {
		t.Fatalf("expected stopped, got %s", record.State)
	}

	if err := mgr.RemoveContainer(ctx, id); err != nil {
		t.Fatalf("remove container: %v", err)
	}
	if _, err := mgr.GetStatus(ctx, id); err == nil {
		t.Fatal("expected container row to be gone after removal")
	}
	if fake.IsAlive(record.PID) {
		t.Fatal("expected pid to no longer be alive after reclaim")
	}
}

func TestRemoveContainerRequiresTerminalState(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{
		Image: fakeImage(t), Command: []string{"sleep", "100"},
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	waitForState(t, mgr, id, domain.ContainerRunning, time.Second)

	if err := mgr.RemoveContainer(ctx, id); err == nil {
		t.Fatal("expected remove to reject a running container")
	}
}

func TestNetworkedContainerAllocatesIP(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{
		Image: fakeImage(t), Command: []string{"echo", "hi"}, Networked: true,
	})
	if err != nil {
		t.Fatalf("create container: %v", err)
	}
	record := waitForState(t, mgr, id, domain.ContainerRunning, time.Second)
	if record.IPAddress == "" {
		t.Fatal("expected an ip address to be allocated")
	}

	topology, err := mgr.NetworkTopology(ctx)
	if err != nil {
		t.Fatalf("network topology: %v", err)
	}
	found := false
	for _, alloc := range topology {
		if alloc.ContainerID == id {
			found = true
			if !alloc.SetupComplete {
				t.Fatal("expected network setup to be marked complete")
			}
		}
	}
	if !found {
		t.Fatal("expected an active allocation for the container")
	}
}

func TestIPAllocatorWrapsAndRejectsWhenExhausted(t *testing.T) {
	a := newIPAllocator("172.16.0.10", "172.16.0.11")

	ip1, err := a.allocate("c1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	ip2, err := a.allocate("c2")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if ip1 == ip2 {
		t.Fatal("expected distinct addresses")
	}

	if _, err := a.allocate("c3"); err == nil {
		t.Fatal("expected range exhaustion error")
	}

	a.release("c1")
	ip3, err := a.allocate("c3")
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if ip3 != ip1 {
		t.Fatalf("expected reused address %s, got %s", ip1, ip3)
	}
}

func TestEmergencyCleanupReclaimsAllUserContainers(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	id1, _ := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{Image: fakeImage(t), Command: []string{"sleep", "100"}})
	id2, _ := mgr.CreateContainer(ctx, "u1", "s1", domain.ContainerSpec{Image: fakeImage(t), Command: []string{"sleep", "100"}})
	waitForState(t, mgr, id1, domain.ContainerRunning, time.Second)
	waitForState(t, mgr, id2, domain.ContainerRunning, time.Second)

	mgr.EmergencyCleanup(ctx, "u1")

	if _, err := mgr.GetStatus(ctx, id1); err == nil {
		t.Fatal("expected id1 to be reclaimed")
	}
	if _, err := mgr.GetStatus(ctx, id2); err == nil {
		t.Fatal("expected id2 to be reclaimed")
	}
}
