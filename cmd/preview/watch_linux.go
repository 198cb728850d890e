//go:build linux

package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// watchFile fires onChange (from a background goroutine) when path is
// modified. Editors replace files rather than rewrite them, so the
// watch sits on the directory and filters by name.
func watchFile(path string, onChange func()) (func() error, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir, base := filepath.Split(abs)

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init: %w", err)
	}
	_, err = unix.InotifyAddWatch(fd, dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO|unix.IN_CREATE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
		var last time.Time
		for {
			n, err := unix.Read(fd, buf)
			if err != nil {
				return // fd closed
			}
			for off := 0; off < n; {
				ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
				nameBytes := buf[off+unix.SizeofInotifyEvent : off+unix.SizeofInotifyEvent+int(ev.Len)]
				off += unix.SizeofInotifyEvent + int(ev.Len)

				name := string(nameBytes)
				if i := strings.IndexByte(name, 0); i >= 0 {
					name = name[:i]
				}
				if name != base {
					continue
				}
				// Debounce bursts from editors that write in chunks.
				if time.Since(last) > 200*time.Millisecond {
					last = time.Now()
					onChange()
				}
			}
		}
	}()

	return func() error { return unix.Close(fd) }, nil
}
