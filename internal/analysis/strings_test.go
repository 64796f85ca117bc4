package analysis

import "testing"

func TestIsValidString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain word", "initialize", true},
		{"half alnum", "ab!?", true},
		{"mostly punctuation", "a-*/!?#+", false},
		{"all spaces", "    ", false},
		{"empty", "", false},
		{"path", "lib/foo.so", true},
		{"sentence", "hello world 42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidString([]byte(tt.in)); got != tt.want {
				t.Errorf("isValidString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScanStrings(t *testing.T) {
	data := []byte("\x00\x00hello\x00x\x00long_symbol_name\x00\x01\x02ok\x00")
	got := scanStrings(data, 0x2000, 4, ".rodata")
	if len(got) != 2 {
		t.Fatalf("got %d strings, want 2: %+v", len(got), got)
	}
	if got[0].Value != "hello" || got[0].VA != 0x2002 || got[0].Len != 5 {
		t.Errorf("first = %+v, want hello at 0x2002 len 5", got[0])
	}
	if got[1].Value != "long_symbol_name" {
		t.Errorf("second = %+v, want long_symbol_name", got[1])
	}
}

func TestScanStringsTrailingRun(t *testing.T) {
	// A printable run ending at the buffer edge still counts.
	got := scanStrings([]byte("\x00tail_string"), 0, 4, ".data")
	if len(got) != 1 || got[0].Value != "tail_string" {
		t.Fatalf("got %+v, want one tail_string", got)
	}
}

func TestEscapeUnprintable(t *testing.T) {
	got := EscapeUnprintable([]byte("a\x01b\xffc"))
	want := "a\\u0001b\\xFFc"
	if got != want {
		t.Errorf("EscapeUnprintable = %q, want %q", got, want)
	}
}

func TestFindSymbol(t *testing.T) {
	syms := []Symbol{
		{VA: 0x1000, Size: 0x20, Name: "a"},
		{VA: 0x1040, Size: 0, Name: "b"}, // sizeless: open-ended
		{VA: 0x1080, Size: 0x10, Name: "c"},
	}
	tests := []struct {
		va   uint64
		want string
		ok   bool
	}{
		{0x0FFF, "", false},
		{0x1000, "a", true},
		{0x101F, "a", true},
		{0x1020, "", false}, // past a's span, before b
		{0x1050, "b", true},
		{0x1085, "c", true},
		{0x1095, "", false},
	}
	for _, tt := range tests {
		got, ok := FindSymbol(syms, tt.va)
		if ok != tt.ok || (ok && got.Name != tt.want) {
			t.Errorf("FindSymbol(%#x) = %q, %v; want %q, %v", tt.va, got.Name, ok, tt.want, tt.ok)
		}
	}
}
