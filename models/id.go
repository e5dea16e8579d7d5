package models

import "sync"

// IDPool hands out sequential ids and recycles released ones.
type IDPool struct {
	mutex    sync.Mutex
	current  uint32
	released map[uint32]struct{}
}

// Next returns an unused id. Released ids are handed out in priority.
func (p *IDPool) Next() uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for id := range p.released {
		delete(p.released, id)
		return id
	}

	p.current++
	return p.current
}

// Release marks the given id as reusable.
func (p *IDPool) Release(id uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.released == nil {
		p.released = make(map[uint32]struct{})
	}
	p.released[id] = struct{}{}
}
