// Package activation picks up listening sockets handed over by systemd.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is the first descriptor systemd passes (after stdin, stdout, stderr).
const firstFD = 3

// Listener returns the first socket passed by systemd, or nil when the
// process was not socket activated.
func Listener() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil || len(listeners) == 0 {
		return nil, err
	}
	for _, extra := range listeners[1:] {
		_ = extra.Close()
	}
	return listeners[0], nil
}

// Listeners returns every socket passed through LISTEN_PID and LISTEN_FDS.
// Activation meant for another process is ignored. The variables are
// cleared so child processes (git, the audio player) do not inherit them.
func Listeners() ([]net.Listener, error) {
	n, err := passedFDs(os.Getenv("LISTEN_PID"), os.Getenv("LISTEN_FDS"), os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		ln, err := net.FileListener(file)
		// FileListener dups the descriptor
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, ln)
	}

	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// passedFDs returns how many descriptors systemd passed to process pid.
func passedFDs(listenPID, listenFDs string, pid int) (int, error) {
	if listenPID == "" || listenFDs == "" {
		return 0, nil
	}

	target, err := strconv.Atoi(listenPID)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", listenPID, err)
	}
	if target != pid {
		return 0, nil
	}

	n, err := strconv.Atoi(listenFDs)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", listenFDs, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}
