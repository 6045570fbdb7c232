//go:build !linux

package jit

// threadID is unknown here; InExecThread falls back to helper tracking.
func threadID() int64 { return 0 }
