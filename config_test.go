package pmlru

import (
	"strings"
	"testing"

	"github.com/holmberd/go-pmlru/internal/testutils"
)

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "Default", modify: func(c *Config) {}},
		{name: "Zero capacity", modify: func(c *Config) { c.Capacity = 0 }, wantErr: "capacity"},
		{name: "Value size too large", modify: func(c *Config) { c.ValueSize = MaxValueSize + 1 }, wantErr: "value size"},
		{name: "Zero table size", modify: func(c *Config) { c.TableSize = 0 }, wantErr: "table size"},
		{name: "Log smaller than an access", modify: func(c *Config) { c.LogRecords = IntentsPerAccess - 1 }, wantErr: "log records"},
		{
			name: "Log payloads over 4 GiB",
			modify: func(c *Config) {
				c.LogRecords = 5120
				c.ValueSize = MaxValueSize
			},
			wantErr: "log payloads",
		},
		{
			name: "Log payloads at the limit",
			modify: func(c *Config) {
				c.LogRecords = 4095
				c.ValueSize = MaxValueSize
			},
		},
		{name: "Table size too large", modify: func(c *Config) { c.TableSize = 1 << 32 }, wantErr: "between 1 and"},
		{name: "Unknown mechanism", modify: func(c *Config) { c.Mechanism = 9 }, wantErr: "mechanism"},
		{
			name: "Custom barrier ignores mechanism",
			modify: func(c *Config) {
				c.Mechanism = 9
				c.Barrier = &testutils.RecordingBarrier{}
			},
		},
		{name: "Missing payload", modify: func(c *Config) { c.Payload = nil }, wantErr: "payload"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestConfigValidateJoinsErrors(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error for the zero config")
	}
	for _, want := range []string{"capacity", "value size", "table size", "log records", "payload"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestFillPayload(t *testing.T) {
	dst := make([]byte, 5)
	FillPayload('a')(1, dst)
	if string(dst) != "aaaaa" {
		t.Fatalf("got %q", dst)
	}
}
