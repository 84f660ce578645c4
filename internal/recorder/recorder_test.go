package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestPathFormat(t *testing.T) {
	got := Path("/rec", "alice", "root", "db-1", "conn1", "ch0")
	want := filepath.Join("/rec", "alice_root@db-1_conn1_ch0.cast")
	if got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestFileRecorderWritesHeaderThenEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cast")
	r, err := NewFile(path, 80, 24, "xterm-256color", true)
	if err != nil {
		t.Fatal(err)
	}

	r.HandleOutput([]byte("hello"))
	r.HandleResize(100, 40)
	r.HandleMarker("window change")
	r.HandleExit(0)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	lines := readLines(t, path)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines (header + 4 events), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatal(err)
	}
	if h.Version != 3 || h.TermCols != 80 || h.TermRows != 24 {
		t.Errorf("unexpected header: %+v", h)
	}

	var ev [3]any
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev[1] != "o" || ev[2] != "hello" {
		t.Errorf("unexpected output event: %v", ev)
	}
}

func TestFileRecorderSkipsInputWhenDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cast")
	r, err := NewFile(path, 80, 24, "", false)
	if err != nil {
		t.Fatal(err)
	}
	r.HandleInput([]byte("secret"))
	r.Close()

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected only the header line with record_input disabled, got %d lines", len(lines))
	}
}

func TestSplitValidUTF8BuffersTrailingPartial(t *testing.T) {
	// "é" is 2 bytes (0xC3 0xA9); split it across two calls.
	full := "café"
	b := []byte(full)
	firstHalf := b[:len(b)-1]
	secondHalf := b[len(b)-1:]

	complete, rem := splitValidUTF8(nil, firstHalf)
	if complete != "caf" {
		t.Errorf("expected complete prefix 'caf', got %q", complete)
	}
	if len(rem) != 1 {
		t.Fatalf("expected 1 trailing byte buffered, got %d", len(rem))
	}

	complete2, rem2 := splitValidUTF8(rem, secondHalf)
	if complete2 != "é" {
		t.Errorf("expected completed rune 'é', got %q", complete2)
	}
	if len(rem2) != 0 {
		t.Errorf("expected no remainder once the rune completes, got %v", rem2)
	}
}
