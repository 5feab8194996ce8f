package api

import "github.com/soaringjerry/Checkin/internal/services"

// Store is what the router needs from a backend: every service store plus
// a way to release it on shutdown.
type Store interface {
	services.Store
	Close() error
}

var _ Store = (*MemoryStore)(nil)
