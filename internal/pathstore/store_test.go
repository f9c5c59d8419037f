package pathstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophcollab/internal/models"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(setupTestLogger())
	require.NoError(t, s.Load(map[string]any{
		"currentNode": "1",
		"nodes": map[string]any{
			"1": map[string]any{
				"components": []any{
					map[string]any{"id": "c0", "fieldValue": "a"},
					map[string]any{"id": "c1", "fieldValue": "b"},
				},
			},
			"2": map[string]any{
				"components": map[string]any{
					"0": map[string]any{"id": "c0", "fieldValue": nil},
				},
			},
		},
		"roles": []any{
			map[string]any{"roleId": 0, "name": "Speaker", "writeAccess": true},
			map[string]any{"roleId": 1, "name": "Scribe", "writeAccess": false},
		},
	}))
	return s
}

func TestStore_Get(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		want    any
		wantErr error
		name    string
		path    string
	}{
		{name: "scalar", path: "$.currentNode", want: "1"},
		{name: "numeric key into array", path: "$.nodes.1.components.1.fieldValue", want: "b"},
		{name: "index into array", path: "$.nodes.1.components[0].id", want: "c0"},
		{name: "numeric key into object", path: "$.nodes.2.components.0.id", want: "c0"},
		{name: "null value", path: "$.nodes.2.components.0.fieldValue", want: nil},
		{name: "wildcard many", path: "$.nodes.1.components.*.fieldValue", want: []any{"a", "b"}},
		{name: "wildcard no match", path: "$.nodes.*.components.c1", want: []any{}},
		{name: "wildcard across objects and arrays", path: "$.nodes.*.components.0.fieldValue", want: []any{"a", nil}},
		{name: "filter single", path: "$.roles[?(@.name=='Scribe')].roleId", want: float64(1)},
		{name: "filter none", path: "$.roles[?(@.name=='Nobody')]", want: []any{}},
		{name: "missing concrete", path: "$.nodes.9", wantErr: ErrPathNotFound},
		{name: "invalid", path: "nodes", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Get(tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get("$.nodes.1")
	require.NoError(t, err)
	got.(map[string]any)["components"] = nil

	again, err := s.Get("$.nodes.1.components[0].fieldValue")
	require.NoError(t, err)
	assert.Equal(t, "a", again)
}

func TestStore_SetCreatesIntermediate(t *testing.T) {
	s := New(setupTestLogger())

	changed, err := s.Set("$.nodes.3.components.0.fieldValue", "x^2")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.Get("$.nodes.3.components.0.fieldValue")
	require.NoError(t, err)
	assert.Equal(t, "x^2", got)

	// Промежуточные объекты - map, а не массивы
	node, err := s.Get("$.nodes.3.components")
	require.NoError(t, err)
	assert.IsType(t, map[string]any{}, node)
}

func TestStore_SetIdempotent(t *testing.T) {
	s := newTestStore(t)

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })
	defer unsubscribe()

	value := map[string]any{"x": 1, "list": []int{1, 2}}

	changed, err := s.Set("$.nodes.1.components.0.fieldValue", value)
	require.NoError(t, err)
	assert.True(t, changed)

	before, err := s.Log().Events(context.Background())
	require.NoError(t, err)

	// Повторная запись равного значения ничего не меняет
	changed, err = s.Set("$.nodes.1.components.0.fieldValue", map[string]any{"list": []any{1.0, 2.0}, "x": 1.0})
	require.NoError(t, err)
	assert.False(t, changed)

	after, err := s.Log().Events(context.Background())
	require.NoError(t, err)
	assert.Len(t, changes, 1)
	assert.Equal(t, before, after)

	assert.Equal(t, "a", changes[0].Old)
	assert.Equal(t, OriginLocal, changes[0].Origin)
	assert.Equal(t, "$.nodes.1.components.0.fieldValue", changes[0].Path.String())
}

func TestStore_SetRejectsAmbiguousAndRoot(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Set("$.nodes.*.components", 1)
	assert.ErrorIs(t, err, ErrAmbiguousPath)

	_, err = s.Set("$.roles[?(@.roleId==0)].name", "x")
	assert.ErrorIs(t, err, ErrAmbiguousPath)

	_, err = s.Set("$", 1)
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.Set("$.nodes.1.components.7", 1)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestStore_SetRejectsNonJSON(t *testing.T) {
	s := New(setupTestLogger())

	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	_, err := s.Set("$.a", cyclic)
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = s.Set("$.a", make(chan int))
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestStore_SetRejectsNonFiniteNumbers(t *testing.T) {
	tests := []struct {
		value any
		name  string
	}{
		{name: "NaN", value: math.NaN()},
		{name: "+Inf", value: math.Inf(1)},
		{name: "-Inf", value: math.Inf(-1)},
		{name: "nested NaN", value: map[string]any{"x": math.NaN()}},
		{name: "float32 Inf", value: float32(math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(setupTestLogger())

			for range 2 {
				changed, err := s.Set("$.a.fieldValue", tt.value)
				assert.ErrorIs(t, err, ErrNotJSON)
				assert.False(t, changed)
			}

			events, err := s.Log().Events(context.Background())
			require.NoError(t, err)
			assert.Empty(t, events)
			_, err = s.Get("$.a.fieldValue")
			assert.ErrorIs(t, err, ErrPathNotFound)

			_, err = Encode(tt.value)
			assert.ErrorIs(t, err, ErrNotJSON)
		})
	}
}

func TestStore_SubscribeUnsubscribe(t *testing.T) {
	s := New(setupTestLogger())

	var order []string
	unsubA := s.Subscribe(func(Change) { order = append(order, "a") })
	s.Subscribe(func(Change) { order = append(order, "b") })

	_, err := s.Set("$.x", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)

	unsubA()
	unsubA()

	_, err = s.Set("$.x", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestStore_ObserverMayWrite(t *testing.T) {
	s := New(setupTestLogger())

	s.Subscribe(func(c Change) {
		if c.Path.String() == "$.a" {
			_, err := s.Set("$.b", c.New)
			assert.NoError(t, err)
		}
	})

	_, err := s.Set("$.a", "v")
	require.NoError(t, err)
	assert.Equal(t, "v", s.GetString("$.b"))
}

func TestStore_ApplyRemoteMarksOrigin(t *testing.T) {
	s := New(setupTestLogger())

	var got Change
	s.Subscribe(func(c Change) { got = c })

	changed, err := s.ApplyRemote("$.nodes.2.components.0.fieldValue", "x^2")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, OriginRemote, got.Origin)

	events, err := s.Log().Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Remote)
}

func TestStore_Replay(t *testing.T) {
	src := newTestStore(t)
	_, err := src.Set("$.nodes.1.components.0.fieldValue", "first")
	require.NoError(t, err)
	_, err = src.ApplyRemote("$.nodes.1.components.1.fieldValue", 42)
	require.NoError(t, err)
	_, err = src.Set("$.currentNode", "2")
	require.NoError(t, err)

	events, err := src.Log().Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 3)

	dst := newTestStore(t)
	require.NoError(t, dst.Replay(events))
	assert.Equal(t, src.Snapshot(), dst.Snapshot())

	// Replay не дописывает события в журнал
	replayed, err := dst.Log().Events(context.Background())
	require.NoError(t, err)
	assert.Empty(t, replayed)
}

func TestStore_ResetValues(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ResetValues([]string{
		"$.nodes.1.components.0.fieldValue",
		"$.nodes.9.components.0.fieldValue",
	}))

	got, err := s.Get("$.nodes.1.components.0.fieldValue")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.Get("$.nodes.9")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

type failingLog struct{}

func (failingLog) Append(context.Context, models.InteractionEvent) error {
	return errors.New("disk full")
}

func (failingLog) Events(context.Context) ([]models.InteractionEvent, error) {
	return nil, nil
}

func TestStore_LogFailureKeepsState(t *testing.T) {
	s := New(setupTestLogger(), WithLog(failingLog{}))

	changed, err := s.Set("$.a", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "1", s.GetString("$.a"))
}
