package container

import "sync"

// systemRefreshFlag is the process-wide guarded bool tracking whether a
// system-module refresh is in flight (spec §5 "Shared-resource policy":
// "The refreshingSystemModule flag is a process-wide guarded bool with
// its own monitor").
type systemRefreshFlag struct {
	mu       sync.Mutex
	inFlight bool
}

// TrySet atomically sets the flag if it is currently clear, reporting
// whether it did so.
func (f *systemRefreshFlag) TrySet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight {
		return false
	}
	f.inFlight = true
	return true
}

// Clear resets the flag.
func (f *systemRefreshFlag) Clear() {
	f.mu.Lock()
	f.inFlight = false
	f.mu.Unlock()
}

// IsSet reports the current value.
func (f *systemRefreshFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}
