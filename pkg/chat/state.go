package chat

// maxTrackedRuns bounds each run-id set. The sets only reject duplicate and
// stale late events, so overflow evicts an arbitrary member rather than
// tracking recency.
const maxTrackedRuns = 200

// RunState is per-session bookkeeping of chat runs: which one is active,
// which ones this client started, and which ones already reached a terminal
// state. Not safe for concurrent use; the Processor serializes access.
type RunState struct {
	SessionKey  string
	ActiveRunID string

	localRuns     map[string]struct{}
	finalizedRuns map[string]struct{}
	sessionRuns   map[string]struct{}
}

func NewRunState(sessionKey string) *RunState {
	return &RunState{
		SessionKey:    sessionKey,
		localRuns:     make(map[string]struct{}),
		finalizedRuns: make(map[string]struct{}),
		sessionRuns:   make(map[string]struct{}),
	}
}

// SetSessionKey switches the state to a new session, clearing all tracking.
// Setting the same key is a no-op.
func (s *RunState) SetSessionKey(sessionKey string) {
	if sessionKey == s.SessionKey {
		return
	}
	s.SessionKey = sessionKey
	s.ActiveRunID = ""
	s.localRuns = make(map[string]struct{})
	s.finalizedRuns = make(map[string]struct{})
	s.sessionRuns = make(map[string]struct{})
}

// NoteLocalRun records a run this client started via chat.send.
func (s *RunState) NoteLocalRun(runID string) {
	if runID == "" {
		return
	}
	s.localRuns[runID] = struct{}{}
	trimRunSet(s.localRuns)
}

// ForgetLocalRun removes a run from the local set once it completes.
func (s *RunState) ForgetLocalRun(runID string) {
	delete(s.localRuns, runID)
}

// NoteSessionRun records a run observed on this session, local or remote.
func (s *RunState) NoteSessionRun(runID string) {
	if runID == "" {
		return
	}
	s.sessionRuns[runID] = struct{}{}
	trimRunSet(s.sessionRuns)
}

// NoteFinalizedRun marks a run terminal. Finalized is absorbing: the run is
// moved out of the session set and later delta/final frames for it must be
// ignored.
func (s *RunState) NoteFinalizedRun(runID string) {
	if runID == "" {
		return
	}
	s.finalizedRuns[runID] = struct{}{}
	delete(s.sessionRuns, runID)
	trimRunSet(s.finalizedRuns)
}

// IsLocalRun reports whether this client started the run.
func (s *RunState) IsLocalRun(runID string) bool {
	_, ok := s.localRuns[runID]
	return ok
}

// IsFinalized reports whether the run already reached a terminal state.
func (s *RunState) IsFinalized(runID string) bool {
	_, ok := s.finalizedRuns[runID]
	return ok
}

// IsKnownRun reports whether the run is active, observed on this session, or
// finalized. Trailing agent telemetry for finalized runs still counts.
func (s *RunState) IsKnownRun(runID string) bool {
	if runID == s.ActiveRunID && runID != "" {
		return true
	}
	if _, ok := s.sessionRuns[runID]; ok {
		return true
	}
	_, ok := s.finalizedRuns[runID]
	return ok
}

// trimRunSet evicts arbitrary members until the set fits the cap. Map
// iteration order makes the victim arbitrary, which is all these sets need.
func trimRunSet(set map[string]struct{}) {
	for key := range set {
		if len(set) <= maxTrackedRuns {
			return
		}
		delete(set, key)
	}
}
