package logparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC)

	tests := []struct {
		name string
		line string
		want Line
		ok   bool
	}{
		{
			name: "joined",
			line: "2024.01.01 10:00:01 Log        -  [Behaviour] OnPlayerJoined Alice (usr_1111)",
			want: Line{Kind: LineJoined, At: at, Name: "Alice", ID: "usr_1111"},
			ok:   true,
		},
		{
			name: "joined with spaces in name",
			line: "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Big Bob (usr_0a1b-2c3d)",
			want: Line{Kind: LineJoined, At: at, Name: "Big Bob", ID: "usr_0a1b-2c3d"},
			ok:   true,
		},
		{
			name: "left",
			line: "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerLeft Alice (usr_1111)",
			want: Line{Kind: LineLeft, At: at, Name: "Alice", ID: "usr_1111"},
			ok:   true,
		},
		{
			name: "avatar change",
			line: "2024.01.01 10:00:01 Log - [Behaviour] Switching Alice to avatar avtr_x",
			want: Line{Kind: LineAvatarChanged, At: at, Name: "Alice"},
			ok:   true,
		},
		{
			name: "avatar change with spaces in name",
			line: "2024.01.01 10:00:01 Log - [Behaviour] Switching Big Bob to avatar avtr_x",
			want: Line{Kind: LineAvatarChanged, At: at, Name: "Big Bob"},
			ok:   true,
		},
		{
			name: "carriage return",
			line: "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerLeft Alice (usr_1111)\r",
			want: Line{Kind: LineLeft, At: at, Name: "Alice", ID: "usr_1111"},
			ok:   true,
		},
		{
			name: "unrelated behaviour line",
			line: "2024.01.01 10:00:01 Log - [Behaviour] Entering Room: Home",
		},
		{
			name: "missing user id",
			line: "2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Alice",
		},
		{
			name: "bad timestamp",
			line: "2024.13.45 10:00:01 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)",
		},
		{
			name: "empty",
			line: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line, time.UTC)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want.Kind, got.Kind)
				assert.True(t, tt.want.At.Equal(got.At), "at: got %v", got.At)
				assert.Equal(t, tt.want.Name, got.Name)
				assert.Equal(t, tt.want.ID, got.ID)
			}
		})
	}
}

func TestParseUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	got, ok := Parse("2024.01.01 10:00:01 Log - [Behaviour] OnPlayerJoined Alice (usr_1111)", loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 1, 0, time.UTC), got.At.UTC())
}
