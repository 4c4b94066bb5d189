package clip

import "sync"

// Memory is an in-process clipboard. It backs relay mode (no system
// clipboard) and is handy as a test double.
type Memory struct {
	mu     sync.Mutex
	text   string
	reads  int
	writes int
}

// NewMemory returns a Memory holding initial.
func NewMemory(initial string) *Memory {
	return &Memory{text: initial}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return m.text, nil
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.text = text
	return nil
}

// Set replaces the value as a local user would, without counting a Write.
func (m *Memory) Set(text string) {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
}

// Get returns the current value without counting a Read.
func (m *Memory) Get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text
}

// Writes returns how many times Write has been called.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) Close() {}
