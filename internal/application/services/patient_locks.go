package services

import "sync"

// patientLocks serialises work per patient inside this process.
type patientLocks struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

func newPatientLocks() *patientLocks {
	return &patientLocks{locks: make(map[string]*patientLock)}
}

// Lock blocks until the patient's lock is held and returns its release func.
func (l *patientLocks) Lock(patientID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[patientID]
	if !ok {
		entry = &patientLock{}
		l.locks[patientID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, patientID)
		}
		l.mu.Unlock()
	}
}

func (l *patientLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
