package signatures

import (
	_ "embed"
	"sync"
)

//go:embed data/apps.json
var defaultDatabase []byte

var (
	defaultOnce  sync.Once
	defaultStore *Store
	defaultErr   error
)

// Default returns the store built from the bundled database. It is parsed
// on first use and shared afterwards.
func Default() (*Store, error) {
	defaultOnce.Do(func() {
		defaultStore, defaultErr = Load(defaultDatabase)
	})
	return defaultStore, defaultErr
}

// DefaultDocument returns a copy of the bundled database document.
func DefaultDocument() []byte {
	return append([]byte(nil), defaultDatabase...)
}
