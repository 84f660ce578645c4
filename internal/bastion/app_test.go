package bastion

import "testing"

func putUint32(b []byte, off int, v uint32) {
	b[off] = byte(v >> 24)
	b[off+1] = byte(v >> 16)
	b[off+2] = byte(v >> 8)
	b[off+3] = byte(v)
}

func putString(b []byte, off int, s string) int {
	putUint32(b, off, uint32(len(s)))
	copy(b[off+4:], s)
	return off + 4 + len(s)
}

func TestParsePtyRequest(t *testing.T) {
	payload := make([]byte, 4+5+16+4+2)
	off := putString(payload, 0, "xterm")
	putUint32(payload, off, 80)
	putUint32(payload, off+4, 24)
	putUint32(payload, off+8, 0)
	putUint32(payload, off+12, 0)
	putUint32(payload, off+16, 2)
	payload[off+20] = 1
	payload[off+21] = 3

	term, cols, rows, modes, ok := parsePtyRequest(payload)
	if !ok {
		t.Fatal("expected ok")
	}
	if term != "xterm" || cols != 80 || rows != 24 {
		t.Errorf("got term=%q cols=%d rows=%d", term, cols, rows)
	}
	if len(modes) != 2 || modes[0] != 1 || modes[1] != 3 {
		t.Errorf("got modes=%v", modes)
	}
}

func TestParsePtyRequestTruncated(t *testing.T) {
	if _, _, _, _, ok := parsePtyRequest([]byte{0, 0, 0, 5}); ok {
		t.Error("expected truncated payload to fail")
	}
}

func TestParseWindowChange(t *testing.T) {
	payload := make([]byte, 8)
	putUint32(payload, 0, 120)
	putUint32(payload, 4, 40)
	cols, rows, ok := parseWindowChange(payload)
	if !ok || cols != 120 || rows != 40 {
		t.Errorf("got cols=%d rows=%d ok=%v", cols, rows, ok)
	}
}

func TestParseExecRequest(t *testing.T) {
	payload := make([]byte, 4+len("uptime"))
	putString(payload, 0, "uptime")
	cmd, ok := parseExecRequest(payload)
	if !ok || cmd != "uptime" {
		t.Errorf("got cmd=%q ok=%v", cmd, ok)
	}
}

func TestParseDirectTcpip(t *testing.T) {
	buf := make([]byte, 4+len("10.0.0.1")+4+4+len("127.0.0.1")+4)
	off := putString(buf, 0, "10.0.0.1")
	putUint32(buf, off, 22)
	off += 4
	off = putString(buf, off, "127.0.0.1")
	putUint32(buf, off, 54321)

	destAddr, destPort, srcAddr, srcPort, ok := parseDirectTcpip(buf)
	if !ok {
		t.Fatal("expected ok")
	}
	if destAddr != "10.0.0.1" || destPort != 22 {
		t.Errorf("got destAddr=%q destPort=%d", destAddr, destPort)
	}
	if srcAddr != "127.0.0.1" || srcPort != 54321 {
		t.Errorf("got srcAddr=%q srcPort=%d", srcAddr, srcPort)
	}
}

func TestResolveMenuChoiceByIndex(t *testing.T) {
	options := []string{"db-1", "db-2", "web-1"}
	got, ok := resolveMenuChoice("2", options)
	if !ok || got != "db-2" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestResolveMenuChoiceByLiteral(t *testing.T) {
	options := []string{"db-1", "db-2"}
	got, ok := resolveMenuChoice("db-1", options)
	if !ok || got != "db-1" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestResolveMenuChoiceUnknown(t *testing.T) {
	if _, ok := resolveMenuChoice("nope", []string{"db-1"}); ok {
		t.Error("expected unknown choice to fail")
	}
	if _, ok := resolveMenuChoice("99", []string{"db-1"}); ok {
		t.Error("expected out-of-range index to fail")
	}
}
