package core

import "errors"

var (
	// ErrNotInitialized is returned by any subsystem used before its
	// bootstrap stage has completed.
	ErrNotInitialized = errors.New("subsystem not initialized")

	// ErrCapacity is returned when a fixed-size table is full. Tables never
	// grow or evict.
	ErrCapacity = errors.New("capacity exhausted")
)
