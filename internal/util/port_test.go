package util

import "testing"

func TestPortRanges(t *testing.T) {
	tests := []struct {
		port      int
		wantPort  bool
		wantStart bool
	}{
		{port: 0},
		{port: 1, wantPort: true, wantStart: true},
		{port: 1080, wantPort: true, wantStart: true},
		{port: 65534, wantPort: true, wantStart: true},
		{port: 65535, wantPort: true},
		{port: 65536},
	}
	for _, tt := range tests {
		if got := ValidatePort(tt.port) == nil; got != tt.wantPort {
			t.Errorf("ValidatePort(%d) ok = %v, want %v", tt.port, got, tt.wantPort)
		}
		if got := ValidateStartPort(tt.port) == nil; got != tt.wantStart {
			t.Errorf("ValidateStartPort(%d) ok = %v, want %v", tt.port, got, tt.wantStart)
		}
	}
}
