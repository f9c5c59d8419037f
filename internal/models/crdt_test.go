package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplicatedEntry_IsNewerThan(t *testing.T) {

	tests := []struct {
		other    *ReplicatedEntry
		self     *ReplicatedEntry
		name     string
		expected bool
	}{
		{
			name:     "self timestamp greater",
			self:     &ReplicatedEntry{Timestamp: 101, NodeID: "nodeA"},
			other:    &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			expected: true,
		},
		{
			name:     "self timestamp smaller",
			self:     &ReplicatedEntry{Timestamp: 90, NodeID: "nodeA"},
			other:    &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			expected: false,
		},
		{
			name:     "timestamps equal, self NodeID greater lex",
			self:     &ReplicatedEntry{Timestamp: 100, NodeID: "nodeB"},
			other:    &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			expected: true,
		},
		{
			name:     "timestamps equal, self NodeID lower lex",
			self:     &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			other:    &ReplicatedEntry{Timestamp: 100, NodeID: "nodeB"},
			expected: false,
		},
		{
			name:     "identical entries",
			self:     &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			other:    &ReplicatedEntry{Timestamp: 100, NodeID: "nodeA"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.self.IsNewerThan(tt.other)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReplicatedEntry_Clone(t *testing.T) {
	original := &ReplicatedEntry{
		UpdatedAt: time.Now(),
		Key:       "$.nodes.2.components.0.fieldValue",
		NodeID:    "node1",
		Value:     json.RawMessage(`"x^2"`),
		Timestamp: 7,
		Seq:       3,
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	// Изменение копии не влияет на оригинал
	clone.Value[1] = 'y'
	assert.Equal(t, `"x^2"`, string(original.Value))
}

func TestReplicatedEntry_SameValue(t *testing.T) {
	e := &ReplicatedEntry{Value: json.RawMessage(` {"a":1} `)}
	assert.True(t, e.SameValue(json.RawMessage(`{"a":1}`)))
	assert.False(t, e.SameValue(json.RawMessage(`{"a":2}`)))
}
