package proc

import (
	"strings"
	"testing"
)

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/dbus-daemon
00e03000-00e24000 rw-p 00000000 00:00 0           [heap]
7f8a2c000000-7f8a2c021000 rw-p 00000000 00:00 0
7fff6c845000-7fff6c846000 r-xp 00000000 00:00 0   [vdso]
garbage line
7f1000000000-7f1000001000 r-xp 00001000 08:02 99  /usr/lib/with space.so
`

func TestParseMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}
	if len(maps) != 6 {
		t.Fatalf("parsed %d maps, want 6", len(maps))
	}

	first := maps[0]
	if first.Start != 0x400000 || first.End != 0x452000 {
		t.Errorf("first span = %#x-%#x, want 0x400000-0x452000", first.Start, first.End)
	}
	if !first.R || first.W || !first.X || !first.P {
		t.Errorf("first perms = r:%v w:%v x:%v p:%v, want r-xp", first.R, first.W, first.X, first.P)
	}
	if first.Path != "/usr/bin/dbus-daemon" {
		t.Errorf("first path = %q", first.Path)
	}

	if heap := maps[2]; heap.Path != "[heap]" || !heap.W {
		t.Errorf("heap map = %+v", heap)
	}
	if anon := maps[3]; anon.Path != "" {
		t.Errorf("anonymous map path = %q, want empty", anon.Path)
	}
	if spaced := maps[5]; spaced.Path != "/usr/lib/with space.so" {
		t.Errorf("spaced path = %q", spaced.Path)
	}
	if spaced := maps[5]; spaced.Offset != 0x1000 {
		t.Errorf("offset = %#x, want 0x1000", spaced.Offset)
	}
}

func TestExecutableMaps(t *testing.T) {
	maps, err := parseMaps(strings.NewReader(sampleMaps))
	if err != nil {
		t.Fatal(err)
	}
	exec := ExecutableMaps(maps)
	if len(exec) != 3 {
		t.Fatalf("got %d executable maps, want 3", len(exec))
	}
	for _, m := range exec {
		if !m.X {
			t.Errorf("non-executable map in result: %+v", m)
		}
	}
}

func TestMatchName(t *testing.T) {
	tests := []struct {
		name    string
		comm    string
		cmdline string
		want    bool
	}{
		{"dbus-daemon", "dbus-daemon", "/usr/bin/dbus-daemon --system", true},
		{"dbus-daemon", "other", "/usr/bin/dbus-daemon --system", true},
		{"dbus-daemon", "other", "", false},
		{"daemon", "dbus-daemon", "/usr/bin/dbus-daemon", false},
		{"sh", "sh", "", true},
	}
	for _, tt := range tests {
		if got := matchName(tt.name, tt.comm, tt.cmdline); got != tt.want {
			t.Errorf("matchName(%q, %q, %q) = %v, want %v", tt.name, tt.comm, tt.cmdline, got, tt.want)
		}
	}
}

func TestRegionLayout(t *testing.T) {
	r, err := NewRegion(1, 0x1234, 0x3456)
	if err != nil {
		t.Fatal(err)
	}
	if r.Base != 0x1000 {
		t.Errorf("Base = %#x, want 0x1000", r.Base)
	}
	if r.Size != 0x3000 {
		t.Errorf("Size = %#x, want 0x3000", r.Size)
	}
	if r.Pages != 3 {
		t.Errorf("Pages = %d, want 3", r.Pages)
	}
	if _, err := NewRegion(1, 0x2000, 0x2000); err == nil {
		t.Error("empty region accepted")
	}
}

func TestRegionSlice(t *testing.T) {
	r, _ := NewRegion(1, 0x1000, 0x4000)
	for i := range r.Data {
		r.Data[i] = byte(i)
	}
	r.Present[0] = true
	r.Present[1] = false
	r.Present[2] = true

	if _, ok := r.Slice(0x1000, 0x800); !ok {
		t.Error("slice within a present page rejected")
	}
	if _, ok := r.Slice(0x1800, 0x1000); ok {
		t.Error("slice crossing a hole accepted")
	}
	if _, ok := r.Slice(0x3000, 0x1001); ok {
		t.Error("slice past the region accepted")
	}
	b, ok := r.Slice(0x3000, 0x10)
	if !ok || b[0] != r.Data[0x2000] {
		t.Errorf("slice at 0x3000 = %v, %v", b, ok)
	}
}
