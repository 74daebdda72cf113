//go:build windows

package instance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

type handle struct {
	h windows.Handle
}

// acquire creates the session-local named mutex Local\<name>. Windows closes
// the handle when the process exits, which frees the name.
func acquire(_ string, name string) (handle, error) {
	p, err := windows.UTF16PtrFromString(`Local\` + name)
	if err != nil {
		return handle{}, err
	}
	h, err := windows.CreateMutex(nil, false, p)
	if err != nil {
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			if h != 0 {
				_ = windows.CloseHandle(h)
			}
			return handle{}, fmt.Errorf("mutex %s already exists", name)
		}
		return handle{}, fmt.Errorf("create mutex %s: %w", name, err)
	}
	return handle{h: h}, nil
}

func (h handle) release() error {
	if h.h == 0 {
		return nil
	}
	return windows.CloseHandle(h.h)
}
