// Package syncstate implements the process-wide sync-state coordinator:
// at-most-one-in-flight discipline plus manual trigger flags, so the
// filesystem view and the sync engine can coordinate scheduled vs.
// manual sync passes without ever holding a lock across the engine's
// upstream calls.
package syncstate

import (
	"sync/atomic"
	"time"
)

// State is the process-wide sync coordinator. All fields use relaxed
// ordering; the only ordering requirement — a losing mark_sync_start
// must never later run a sync pass — is provided by the CAS itself.
type State struct {
	syncInterval time.Duration

	lastSync     atomic.Pointer[time.Time]
	lastFullSync atomic.Pointer[time.Time]

	syncInProgress    atomic.Bool
	manualTrigger     atomic.Bool
	manualFullTrigger atomic.Bool
}

// New builds a coordinator with the given scheduled sync interval.
func New(syncInterval time.Duration) *State {
	return &State{syncInterval: syncInterval}
}

// MarkSyncStart atomically transitions sync_in_progress false→true,
// returning whether this caller won. Losers must return without
// performing a sync pass.
func (s *State) MarkSyncStart() bool {
	return s.syncInProgress.CompareAndSwap(false, true)
}

// MarkSyncEnd resets sync_in_progress unconditionally.
func (s *State) MarkSyncEnd() {
	s.syncInProgress.Store(false)
}

// SyncInProgress reports whether a sync pass currently holds the slot.
func (s *State) SyncInProgress() bool {
	return s.syncInProgress.Load()
}

// MarkSyncComplete sets last_sync to now.
func (s *State) MarkSyncComplete() {
	now := time.Now()
	s.lastSync.Store(&now)
}

// MarkFullSyncComplete sets last_full_sync to now.
func (s *State) MarkFullSyncComplete() {
	now := time.Now()
	s.lastFullSync.Store(&now)
}

// LastSync returns the instant of the last completed sync, if any.
func (s *State) LastSync() (time.Time, bool) {
	p := s.lastSync.Load()
	if p == nil {
		return time.Time{}, false
	}
	return *p, true
}

// LastFullSync returns the instant of the last completed full sync, if any.
func (s *State) LastFullSync() (time.Time, bool) {
	p := s.lastFullSync.Load()
	if p == nil {
		return time.Time{}, false
	}
	return *p, true
}

// TriggerManual arms the incremental manual-refresh flag.
func (s *State) TriggerManual() {
	s.manualTrigger.Store(true)
}

// TriggerManualFull arms the full-refresh flag.
func (s *State) TriggerManualFull() {
	s.manualFullTrigger.Store(true)
}

// CheckAndClearManualTrigger atomically reads and resets the
// incremental manual-refresh flag, returning whether it was set.
func (s *State) CheckAndClearManualTrigger() bool {
	return s.manualTrigger.Swap(false)
}

// CheckAndClearManualFullTrigger atomically reads and resets the
// full-refresh flag, returning whether it was set.
func (s *State) CheckAndClearManualFullTrigger() bool {
	return s.manualFullTrigger.Swap(false)
}

// SecondsUntilNextSync returns max(0, sync_interval - (now - last_sync)),
// or 0 if no sync has completed yet.
func (s *State) SecondsUntilNextSync() int64 {
	last, ok := s.LastSync()
	if !ok {
		return 0
	}
	remaining := s.syncInterval - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}
