//go:build !unix

package reorg

func crossDevice(error) bool { return false }
