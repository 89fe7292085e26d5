// Package config carries the kernel core's compiled-in resource limits,
// following the teacher kernel's limits package: a plain struct with a
// default constructor rather than a parsed config file, since the
// teacher kernel has no notion of one.
package config

// Config holds the sizes of the core's process-wide resource pools.
type Config struct {
	// UserFrames is the number of physical frames in the user pool.
	UserFrames int
	// SwapSlots is the number of swap slots available.
	SwapSlots int
	// SectorCacheSlots is the fixed capacity of the sector cache.
	SectorCacheSlots int
	// MaxOpenFiles bounds a process's file-handle table.
	MaxOpenFiles int
	// MaxPhdrs bounds the number of ELF program headers accepted.
	MaxPhdrs int
}

// Default returns the kernel core's compiled-in defaults.
func Default() *Config {
	return &Config{
		UserFrames:       1024,
		SwapSlots:        4096,
		SectorCacheSlots: 64,
		MaxOpenFiles:     128,
		MaxPhdrs:         1024,
	}
}
