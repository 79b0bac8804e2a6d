package protocol

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/spaolacci/murmur3"
)

// Seen remembers recently processed messages by their content so the same
// broadcast arriving from several peers is handled once.
type Seen struct {
	cache *lru.Cache
}

// NewSeen constructs a cache remembering the specified number of messages.
func NewSeen(size int) (*Seen, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Seen{cache: cache}, nil
}

// Observe records the message and reports whether it is the first time
// its content was seen.
func (s *Seen) Observe(m Message) bool {
	seen, _ := s.cache.ContainsOrAdd(Key(m), struct{}{})
	return !seen
}

// Forget removes the message so it is processed again when it arrives.
func (s *Seen) Forget(m Message) {
	s.cache.Remove(Key(m))
}

// Key returns the content hash of the message. The id and sender are not
// part of it.
func Key(m Message) uint64 {
	h := murmur3.New64()
	h.Write([]byte{byte(m.Code)})
	h.Write(m.Payload)
	return h.Sum64()
}
