package container

import (
	"context"
	"time"

	"github.com/ariacorp/ariarun/internal/aerrors"
	"github.com/ariacorp/ariarun/internal/domain"
)

// RunWorkload implements execution.ContainerRunner for a StepContainerWorkload
// planned step (§4.9 dispatch rule 2): create the container, wait for it to
// reach a running or terminal state, capture its output, then stop and
// reclaim it.
func (m *Manager) RunWorkload(ctx context.Context, sessionID string, spec domain.ContainerSpec) (stdout, stderr string, exitCode int, err error) {
	// execution.ContainerRunner carries no separate owning-user id; an
	// ephemeral workload container is scoped to (and reclaimed under) its
	// session, so the session id doubles as the owner key here.
	id, err := m.CreateContainer(ctx, sessionID, sessionID, spec)
	if err != nil {
		return "", "", -1, err
	}

	record, err := m.awaitStarted(ctx, id)
	if err != nil {
		return "", "", -1, err
	}
	if record.State != domain.ContainerRunning {
		return "", "", record.ExitCode, aerrors.New(aerrors.CodeContainerStartFailed, aerrors.CategoryContainer,
			aerrors.SeverityHigh, "container workload never reached running state")
	}

	result, execErr := m.Exec(ctx, id, spec.Command, true)
	if stopErr := m.StopContainer(ctx, id); stopErr != nil {
		m.log.Warn("run workload: stop after exec failed", "container_id", id, "error", stopErr)
	}
	if remErr := m.RemoveContainer(ctx, id); remErr != nil {
		m.log.Warn("run workload: remove after exec failed", "container_id", id, "error", remErr)
	}
	if execErr != nil {
		return result.Stdout, result.Stderr, result.ExitCode, execErr
	}
	return result.Stdout, result.Stderr, result.ExitCode, nil
}

// awaitStarted polls GetStatus until the container leaves the transient
// created/starting states or ctx is done.
func (m *Manager) awaitStarted(ctx context.Context, id string) (domain.ContainerRecord, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, err := m.GetStatus(ctx, id)
		if err != nil {
			return domain.ContainerRecord{}, err
		}
		switch record.State {
		case domain.ContainerCreated, domain.ContainerStarting:
			// keep polling
		default:
			return record, nil
		}
		select {
		case <-ctx.Done():
			return domain.ContainerRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
