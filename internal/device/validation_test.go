package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		address string
		wantErr bool
	}{
		{"123401", false},
		{"abcdef", false},
		{"ABCDEF", false},
		{"1A2B", false},
		{"1A2", true},
		{"1A2G", true},
		{"", true},
		{"12340", true},
		{"1234011", true},
		{"12 401", true},
		{"12340Z", true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("error %v is not ErrInvalidAddress", err)
			}
		})
	}
}

func TestValidateDeviceName(t *testing.T) {
	long := strings.Repeat("x", maxNameLength+1)
	if err := ValidateDevice(&Device{Name: long, Address: "123401"}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("long name error = %v, want ErrInvalidName", err)
	}
	if err := ValidateDevice(&Device{Name: "lamp1", Address: "123401"}); err != nil {
		t.Errorf("valid device error = %v", err)
	}
}
