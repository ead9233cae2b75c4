//go:build unix

package reorg

import (
	"errors"

	"golang.org/x/sys/unix"
)

func crossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
