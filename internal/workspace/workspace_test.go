package workspace

import "testing"

func TestParseVolume(t *testing.T) {
	tests := []struct {
		in      string
		want    Volume
		wantErr bool
	}{
		{"", Volume{}, false},
		{"/host:/container", Volume{Host: "/host", Container: "/container"}, false},
		{"/host", Volume{}, true},
		{"/host:/container:extra", Volume{}, true},
		{":/container", Volume{}, true},
		{"/host:", Volume{}, true},
	}
	for _, tt := range tests {
		got, err := ParseVolume(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseVolume(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseVolume(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestVolumeSet(t *testing.T) {
	if (Volume{}).set() {
		t.Fatal("empty volume should not be set")
	}
	if !(Volume{Host: "/h", Container: "/c"}).set() {
		t.Fatal("fully populated volume should be set")
	}
}

func TestNewLayoutPaths(t *testing.T) {
	l := NewLayout("/root/demo", "/root/demo/mnt")
	if l.Image != "/root/demo/image" || l.WriteLayer != "/root/demo/writeLayer" ||
		l.Work != "/root/demo/work" || l.Log != "/root/demo/log.log" {
		t.Fatalf("unexpected layout: %+v", l)
	}
}
