package muxconn

import "sync"

// streamPool recycles *Stream values per CallType after they reach Closed,
// avoiding allocation churn under a high call rate (spec.md §4.4's
// "recycling" requirement). Recycled streams are zeroed of per-call state
// before being handed out again; the wire.Pool beneath them is untouched.
type streamPool struct {
	pools [numCallTypes]sync.Pool
}

func newStreamPool() *streamPool {
	p := &streamPool{}
	for i := range p.pools {
		p.pools[i] = sync.Pool{New: func() any { return &Stream{} }}
	}
	return p
}

func (p *streamPool) get(ct CallType) *Stream {
	s := p.pools[ct].Get().(*Stream)
	s.reset()
	return s
}

// put runs inside finish's sync.Once, so it leaves the Stream intact
// (zeroing it there would clobber that Once); get resets it on reuse.
func (p *streamPool) put(s *Stream) {
	ct := s.callType
	p.pools[ct].Put(s)
}
