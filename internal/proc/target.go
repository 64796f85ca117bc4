package proc

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
)

// FindPID searches the process table for a process whose comm or
// argv[0] basename matches name exactly. Returns the first match.
func FindPID(name string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("proc: empty process name")
	}
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("read /proc: %w", err)
	}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := readComm(pid)
		if err != nil {
			continue // permission denied or gone, skip
		}
		if matchName(name, comm, readCmdline(pid)) {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("proc: no process named %q", name)
}

func readComm(pid int) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// readCmdline returns the process cmdline with NUL separators turned
// into spaces. Kernel threads have an empty cmdline; that is fine.
func readCmdline(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(b) == 0 {
		return ""
	}
	s := strings.ReplaceAll(string(b), "\x00", " ")
	return strings.TrimRight(s, " ")
}

func matchName(name, comm, cmdline string) bool {
	if comm == name {
		return true
	}
	argv0 := cmdline
	if sp := strings.IndexByte(cmdline, ' '); sp >= 0 {
		argv0 = cmdline[:sp]
	}
	return argv0 != "" && path.Base(argv0) == name
}
