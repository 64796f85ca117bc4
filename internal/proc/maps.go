// Package proc acquires bytes from live processes: /proc maps parsing,
// page-granular memory snapshots, and pid lookup by name. It is an
// alternate byte-buffer source for the decode pipeline.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Map is one line of /proc/<pid>/maps.
type Map struct {
	Start  uint64
	End    uint64
	Offset uint64
	R      bool
	W      bool
	X      bool
	P      bool // private (copy-on-write)
	Path   string
}

// ParseMaps reads /proc/<pid>/maps.
func ParseMaps(pid int) ([]Map, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("open maps: %w", err)
	}
	defer f.Close()
	return parseMaps(f)
}

func parseMaps(r io.Reader) ([]Map, error) {
	var maps []Map
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m, ok := parseMapLine(sc.Text())
		if !ok {
			continue
		}
		maps = append(maps, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read maps: %w", err)
	}
	return maps, nil
}

// parseMapLine parses "start-end perms offset dev inode [path]".
func parseMapLine(line string) (Map, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Map{}, false
	}
	addr := strings.SplitN(fields[0], "-", 2)
	if len(addr) != 2 {
		return Map{}, false
	}
	start, err1 := strconv.ParseUint(addr[0], 16, 64)
	end, err2 := strconv.ParseUint(addr[1], 16, 64)
	off, err3 := strconv.ParseUint(fields[2], 16, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Map{}, false
	}
	perms := fields[1]
	if len(perms) < 4 {
		return Map{}, false
	}
	m := Map{
		Start:  start,
		End:    end,
		Offset: off,
		R:      perms[0] == 'r',
		W:      perms[1] == 'w',
		X:      perms[2] == 'x',
		P:      perms[3] == 'p',
	}
	if len(fields) >= 6 {
		m.Path = strings.Join(fields[5:], " ")
	}
	return m, true
}

// ExecutableMaps filters for mapped code.
func ExecutableMaps(maps []Map) []Map {
	var out []Map
	for _, m := range maps {
		if m.X {
			out = append(out, m)
		}
	}
	return out
}
