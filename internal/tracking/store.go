package tracking

import "sync"

// Store holds the latest State and fans changes out to subscribers. Listeners
// run synchronously on the goroutine that changed the state and must not call
// back into the Machine.
type Store struct {
	mu    sync.RWMutex
	state State
	subs  map[int]func(State)
	next  int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(State))}
}

func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Subscribe registers fn and immediately calls it with the current state.
// The returned func removes the subscription.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	cur := s.state.clone()
	s.mu.Unlock()

	fn(cur)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) set(st State) {
	s.mu.Lock()
	s.state = st.clone()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st.clone())
	}
}
