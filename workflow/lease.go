package workflow

import (
	"context"
	"log"
	"time"
)

// LeaseStore is the subset of persistence the recovery sweeper needs:
// finding in-flight (checkpoint-status) executions whose owning server has
// gone silent and reassigning them (spec.md §4.11).
type LeaseStore interface {
	UpdateHeartbeats(ctx context.Context, serverNodeID string, executionIDs []string) error
	ClaimStaleExecutions(ctx context.Context, claimingNodeID string, staleBefore time.Time) ([]string, error)
}

// LeaseManager runs the heartbeat loop for executions this process owns and
// the periodic sweep that reclaims executions abandoned by a dead peer.
type LeaseManager struct {
	store        LeaseStore
	serverNodeID string
	heartbeatInterval time.Duration
	recoveryInterval  time.Duration
	staleThreshold    time.Duration
	metrics      *metricsIncLeaseClaim

	owned chan string // executionIDs to heartbeat, fed by Track
}

// metricsIncLeaseClaim decouples LeaseManager from the concrete metrics
// package the same way planMetricsSink decouples runPlan.
type metricsIncLeaseClaim struct {
	inc func(serverNodeID string)
}

// NewLeaseManager constructs a LeaseManager for serverNodeID against store.
func NewLeaseManager(store LeaseStore, serverNodeID string, heartbeatInterval, recoveryInterval, staleThreshold time.Duration, onClaim func(serverNodeID string)) *LeaseManager {
	lm := &LeaseManager{
		store:             store,
		serverNodeID:      serverNodeID,
		heartbeatInterval: heartbeatInterval,
		recoveryInterval:  recoveryInterval,
		staleThreshold:    staleThreshold,
		owned:             make(chan string, 1024),
	}
	if onClaim != nil {
		lm.metrics = &metricsIncLeaseClaim{inc: onClaim}
	}
	return lm
}

// Track registers an executionID as owned by this process, to be
// heartbeated until the execution reaches a terminal status.
func (lm *LeaseManager) Track(executionID string) {
	select {
	case lm.owned <- executionID:
	default:
		log.Printf("lease: owned queue full, dropping heartbeat registration for %s", executionID)
	}
}

// RunHeartbeats blocks, sending a heartbeat for every tracked execution
// every HeartbeatInterval, until ctx is cancelled.
func (lm *LeaseManager) RunHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(lm.heartbeatInterval)
	defer ticker.Stop()

	tracked := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-lm.owned:
			tracked[id] = true
		case <-ticker.C:
			if len(tracked) == 0 {
				continue
			}
			ids := make([]string, 0, len(tracked))
			for id := range tracked {
				ids = append(ids, id)
			}
			if err := lm.store.UpdateHeartbeats(ctx, lm.serverNodeID, ids); err != nil {
				log.Printf("lease: heartbeat update failed: %v", err)
			}
		}
	}
}

// RunRecoverySweeper blocks, periodically claiming executions whose
// LastHeartbeatAt is older than StaleThreshold, until ctx is cancelled. The
// caller is responsible for resuming every claimed execution ID (typically
// via Engine.Resume with an empty resumeInput).
func (lm *LeaseManager) RunRecoverySweeper(ctx context.Context, onClaimed func(executionID string)) {
	ticker := time.NewTicker(lm.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staleBefore := time.Now().Add(-lm.staleThreshold)
			claimed, err := lm.store.ClaimStaleExecutions(ctx, lm.serverNodeID, staleBefore)
			if err != nil {
				log.Printf("lease: stale claim sweep failed: %v", err)
				continue
			}
			for _, id := range claimed {
				if lm.metrics != nil {
					lm.metrics.inc(lm.serverNodeID)
				}
				if onClaimed != nil {
					onClaimed(id)
				}
			}
		}
	}
}
