package jpt

import "sync"

// rwlock implements the engine's single-writer/multiple-reader discipline:
// while any reader holds the lock no writer may enter, while a writer holds
// it nothing else may enter, and an arriving writer blocks new readers
// until it leaves so reads cannot starve writes. sync.RWMutex doesn't give
// writer preference, so this is hand-rolled on a mutex and two condition
// variables around readerCount/isWriting state.
type rwlock struct {
	mu         sync.Mutex
	readReady  *sync.Cond
	writeReady *sync.Cond

	readerCount    int
	isWriting      bool
	waitingWriters int
}

func newRWLock() *rwlock {
	l := &rwlock{}
	l.readReady = sync.NewCond(&l.mu)
	l.writeReady = sync.NewCond(&l.mu)
	return l
}

// RLock blocks while a writer holds the lock or one is waiting to acquire
// it.
func (l *rwlock) RLock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.isWriting || l.waitingWriters > 0 {
		l.readReady.Wait()
	}
	l.readerCount++
}

func (l *rwlock) RUnlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readerCount--
	if l.readerCount == 0 {
		l.writeReady.Signal()
	}
}

// Lock blocks until no reader and no other writer holds the lock. It marks
// itself as waiting first, so readers that arrive after it stop trying to
// acquire ahead of it.
func (l *rwlock) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitingWriters++
	for l.isWriting || l.readerCount > 0 {
		l.writeReady.Wait()
	}
	l.waitingWriters--
	l.isWriting = true
}

func (l *rwlock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isWriting = false
	if l.waitingWriters > 0 {
		l.writeReady.Signal()
	} else {
		l.readReady.Broadcast()
	}
}
