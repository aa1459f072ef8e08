package sim

import "sync"

// Device is a target attached to the simulated bus. Start is the address
// phase; returning false NACKs it.
type Device interface {
	Start(read bool) bool
	Write(b byte) bool
	Read() byte
	Stop()
}

// Memory is a register file behind an 8 or 16-bit address pointer, the way
// EEPROMs and most sensors expose their registers. Writes after the pointer
// bytes are stored, reads return data from the pointer on; both advance it
// and wrap at the end of Data.
type Memory struct {
	mu       sync.Mutex
	width    int
	data     []byte
	ptr      int
	ptrBytes int
	// ReadOnly NACKs every data byte written after the pointer.
	ReadOnly bool
}

func NewMemory(size, width int) *Memory {
	if width != 16 {
		width = 8
	}
	return &Memory{width: width, data: make([]byte, size)}
}

func (m *Memory) Start(read bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !read {
		m.ptrBytes = 0
	}
	return true
}

func (m *Memory) Write(b byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ptrBytes < m.width/8 {
		if m.ptrBytes == 0 {
			m.ptr = 0
		}
		m.ptr = m.ptr<<8 | int(b)
		m.ptrBytes++
		if m.ptrBytes == m.width/8 && len(m.data) > 0 {
			m.ptr %= len(m.data)
		}
		return true
	}
	if m.ReadOnly || len(m.data) == 0 {
		return false
	}
	m.data[m.ptr] = b
	m.ptr = (m.ptr + 1) % len(m.data)
	return true
}

func (m *Memory) Read() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return 0xFF
	}
	b := m.data[m.ptr]
	m.ptr = (m.ptr + 1) % len(m.data)
	return b
}

func (m *Memory) Stop() {}

// Bytes returns a copy of the register file.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Load overwrites the register file from offset on.
func (m *Memory) Load(offset int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[offset:], data)
}

// Sink acknowledges everything, keeps the bytes written to it and answers
// reads from Reply, 0xFF once Reply is exhausted.
type Sink struct {
	mu      sync.Mutex
	written []byte
	Reply   []byte
	next    int
}

func (s *Sink) Start(read bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if read {
		s.next = 0
	}
	return true
}

func (s *Sink) Write(b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, b)
	return true
}

func (s *Sink) Read() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.Reply) {
		return 0xFF
	}
	b := s.Reply[s.next]
	s.next++
	return b
}

func (s *Sink) Stop() {}

func (s *Sink) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}
