package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventUnmarshalSuccessDefault(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"absent defaults to true", `{"identity":"a","type":"login"}`, true},
		{"explicit false", `{"identity":"a","type":"login","success":false}`, false},
		{"explicit true", `{"identity":"a","type":"login","success":true}`, true},
		{"null defaults to true", `{"identity":"a","type":"login","success":null}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(tt.body), &ev))
			assert.Equal(t, tt.want, ev.Success)
			assert.Equal(t, "a", ev.Identity)
			assert.Equal(t, EventTypeLogin, ev.Type)
		})
	}
}

func TestEventUnmarshalKeepsOtherFields(t *testing.T) {
	var ev Event
	body := `{"identity":"a","type":"network","timestamp":"2026-10-13T22:00:00Z","port":443,"location":"NYC"}`
	require.NoError(t, json.Unmarshal([]byte(body), &ev))

	assert.True(t, ev.Timestamp.Equal(time.Date(2026, 10, 13, 22, 0, 0, 0, time.UTC)))
	require.NotNil(t, ev.Port)
	assert.Equal(t, 443, *ev.Port)
	require.NotNil(t, ev.Location)
	assert.Equal(t, "NYC", *ev.Location)
	assert.True(t, ev.Success)
}
