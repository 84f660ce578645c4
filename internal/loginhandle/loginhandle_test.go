package loginhandle

import "testing"

func TestParseOneSegmentIsTargetSelector(t *testing.T) {
	h, err := Parse("alice")
	if err != nil {
		t.Fatal(err)
	}
	if h.Kind != KindTargetSelector || h.User != "alice" {
		t.Errorf("got %+v", h)
	}
}

func TestParseTwoSegments(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
	}{
		{"alice@password", KindPassword},
		{"alice@admin", KindAdmin},
		{"alice@db-1", KindTarget},
	}
	for _, c := range cases {
		h, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if h.Kind != c.kind {
			t.Errorf("Parse(%q).Kind = %v, want %v", c.in, h.Kind, c.kind)
		}
	}
	h, _ := Parse("alice@db-1")
	if h.Target != "db-1" {
		t.Errorf("expected Target=db-1, got %q", h.Target)
	}
}

func TestParseThreeSegmentsTargetWithUser(t *testing.T) {
	h, err := Parse("alice@root@db-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.Kind != KindTargetWithUser || h.SystemUser != "root" || h.Target != "db-1" {
		t.Errorf("got %+v", h)
	}
}

func TestParseMoreThanThreeSegmentsRejected(t *testing.T) {
	if _, err := Parse("alice@root@db-1@extra"); err == nil {
		t.Fatal("expected an error for more than 3 segments")
	}
}

func TestParseEmptySegmentRejected(t *testing.T) {
	if _, err := Parse("alice@"); err == nil {
		t.Fatal("expected an error for a trailing empty segment")
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected an error for an empty login")
	}
}
