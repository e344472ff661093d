package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoom(t *testing.T) {
	id := uuid.MustParse("6f1c2a9e-0d4b-4b8e-9a52-1f0f5c3f7d10")

	tests := []struct {
		name    string
		input   string
		want    Room
		wantErr bool
	}{
		{name: "queue", input: "queue", want: QueueRoom},
		{name: "operators", input: "operators", want: OperatorsRoom},
		{name: "dispatches", input: "dispatches", want: DispatchesRoom},
		{name: "map", input: "map", want: MapRoom},
		{name: "all", input: "all", want: AllRoom},
		{name: "mixed case and spaces", input: "  Queue ", want: QueueRoom},
		{name: "dispatch scoped", input: "dispatch-" + id.String(), want: DispatchRoom(id)},
		{name: "bad dispatch id", input: "dispatch-nope", wantErr: true},
		{name: "unknown", input: "lobby", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoom(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}
}

func TestRoom_String(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "dispatches", DispatchesRoom.String())
	assert.Equal(t, "dispatch-"+id.String(), DispatchRoom(id).String())
	assert.False(t, Room{}.IsValid())
	assert.False(t, DispatchRoom(uuid.Nil).IsValid())
}

func TestRoom_UsableAsMapKey(t *testing.T) {
	id := uuid.New()
	members := map[Room]int{DispatchRoom(id): 1}

	parsed, err := ParseRoom("dispatch-" + id.String())
	require.NoError(t, err)
	assert.Equal(t, 1, members[parsed])
}
