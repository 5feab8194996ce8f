package api

import (
	"testing"

	"github.com/soaringjerry/Checkin/internal/services"
	"github.com/soaringjerry/Checkin/internal/storetest"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) services.Store {
		return NewMemoryStore()
	})
}
