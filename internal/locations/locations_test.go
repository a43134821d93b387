package locations

import "testing"

func TestNameAndID(t *testing.T) {
	name, ok := Name("AXjwbE")
	if !ok || name != "Exer Urgent Care - Demo" {
		t.Fatalf("unexpected name %q ok=%v", name, ok)
	}
	id, ok := ID("Exer Urgent Care - Demo")
	if !ok || id != "AXjwbE" {
		t.Fatalf("unexpected id %q ok=%v", id, ok)
	}
}

func TestDisplayNameUnknown(t *testing.T) {
	if got := DisplayName("zzz"); got != "Unknown Location (zzz)" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := DisplayName(""); got != "Unknown Location" {
		t.Fatalf("unexpected display name %q", got)
	}
}

func TestFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://manage.solvhealth.com/queue?location_ids=AXjwbE", "AXjwbE", true},
		{"https://manage.solvhealth.com/queue?location_ids=AXjwbE,g5rawn&x=1", "AXjwbE", true},
		{"https://manage.solvhealth.com/queue", "", false},
		{"://bad", "", false},
	}
	for _, tt := range tests {
		got, ok := FromURL(tt.url)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromURL(%q) = %q,%v want %q,%v", tt.url, got, ok, tt.want, tt.ok)
		}
	}
}

func TestQueueURLRoundTrip(t *testing.T) {
	id, ok := FromURL(QueueURL("g5rawn"))
	if !ok || id != "g5rawn" {
		t.Fatalf("round trip failed: %q %v", id, ok)
	}
	if len(IDs()) == 0 {
		t.Fatal("expected location ids")
	}
}
