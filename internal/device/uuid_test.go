package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// 16-bit UUID formats
		{
			name:     "16-bit UUID lowercase",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit UUID uppercase",
			input:    "2A37",
			expected: "2a37",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x2A37",
			expected: "2a37",
		},

		// Bluetooth SIG base UUID format (should extract 16-bit form)
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID uppercase",
			input:    "00002A37-0000-1000-8000-00805F9B34FB",
			expected: "2a37",
		},

		// Custom 128-bit UUIDs (should NOT be shortened)
		{
			name:     "Vendor UUID",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "Wrong prefix",
			input:    "AA002A37-0000-1000-8000-00805f9b34fb",
			expected: "aa002a3700001000800000805f9b34fb",
		},

		// Edge cases
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "Surrounding whitespace",
			input:    "  180D ",
			expected: "180d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	input := []string{"0x180d", "00002a37-0000-1000-8000-00805f9b34fb", "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"}
	expected := []string{"180d", "2a37", "6e400001b5a3f393e0a9e50e24dcca9e"}

	assert.Equal(t, expected, NormalizeUUIDs(input))
}

func TestValidateUUID(t *testing.T) {
	t.Run("accepts short and long forms", func(t *testing.T) {
		got, err := ValidateUUID("180D", "6e400001-b5a3-f393-e0a9-e50e24dcca9e")
		require.NoError(t, err)
		assert.Equal(t, []string{"180d", "6e400001b5a3f393e0a9e50e24dcca9e"}, got)
	})

	tests := []struct {
		name  string
		input []string
		msg   string
	}{
		{name: "no arguments", input: nil, msg: "at least one UUID"},
		{name: "empty entry", input: []string{"180d", ""}, msg: "index 1 cannot be empty"},
		{name: "non-hex", input: []string{"zz0d"}, msg: "invalid UUID format"},
		{name: "odd length", input: []string{"180d1"}, msg: "invalid UUID length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateUUID(tt.input...)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.msg), err.Error())
		})
	}
}

func TestContainsUUID(t *testing.T) {
	assert.True(t, ContainsUUID(nil, "180d"), "empty filter MUST match everything")
	assert.True(t, ContainsUUID([]string{"0000180D-0000-1000-8000-00805F9B34FB"}, "180d"))
	assert.False(t, ContainsUUID([]string{"180f"}, "180d"))
}
