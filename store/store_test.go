package store

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/lambda"
	"github.com/timewave-computer/causality-sub016/machine"
	"github.com/timewave-computer/causality-sub016/resource"
)

func open(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "causality.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestObjects(t *testing.T) {
	s, _ := open(t)
	id, err := s.Objects.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, content.Hash([]byte("hello")), id)

	again, err := s.Objects.Put([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	n, err := s.Objects.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, ok, err := s.Objects.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), b)

	_, ok, err = s.Objects.Get(content.Hash([]byte("missing")))
	require.NoError(t, err)
	assert.False(t, ok)

	empty, err := s.Objects.Put(nil)
	require.NoError(t, err)
	b, ok, err = s.Objects.Get(empty)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, b)
}

func TestSecret(t *testing.T) {
	s, path := open(t)
	k, err := s.Secret("zk", 32)
	require.NoError(t, err)
	require.Len(t, k, 32)
	again, err := s.Secret("zk", 32)
	require.NoError(t, err)
	assert.Equal(t, k, again)
	other, err := s.Secret("other", 32)
	require.NoError(t, err)
	assert.NotEqual(t, k, other)

	require.NoError(t, s.Close())
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	back, err := reopened.Secret("zk", 32)
	require.NoError(t, err)
	assert.Equal(t, k, back)
}

func TestNullifiers(t *testing.T) {
	s, path := open(t)
	a := content.ResourceID(content.Hash([]byte("a")))
	b := content.ResourceID(content.Hash([]byte("b")))
	require.NoError(t, s.Nullifiers.Nullify(a))
	require.NoError(t, s.Nullifiers.Nullify(b))
	assert.ErrorIs(t, s.Nullifiers.Nullify(a), resource.ErrAlreadyNullified)

	ok, err := s.Nullifiers.Contains(a)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.Nullifiers.List()
	require.NoError(t, err)
	want := []content.ResourceID{a, b}
	resource.SortIDs(want)
	assert.Equal(t, want, ids)
	root, err := s.Nullifiers.Root()
	require.NoError(t, err)
	assert.Equal(t, resource.Root(want), root)

	// the set survives reopening
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.Nullifiers.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentNullify(t *testing.T) {
	s, _ := open(t)
	id := content.ResourceID(content.Hash([]byte("coin")))
	var wins atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			err := s.Nullifiers.Nullify(id)
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, resource.ErrAlreadyNullified) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestMachineUsesStore(t *testing.T) {
	s, _ := open(t)
	compiled, err := lambda.Compile(lambda.Consume(lambda.AllocTagged("coin", lambda.Int(5))))
	require.NoError(t, err)
	_, tr, err := machine.Execute(compiled.Program, nil, nil, machine.WithNullifiers(s.Nullifiers))
	require.NoError(t, err)
	require.Len(t, tr.Nullifiers, 1)

	ok, err := s.Nullifiers.Contains(tr.Nullifiers[0])
	require.NoError(t, err)
	assert.True(t, ok)

	id, err := content.PutCanonical(s.Objects, compiled.Program)
	require.NoError(t, err)
	raw, ok, err := s.Objects.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	back, err := machine.DeserializeProgram(raw)
	require.NoError(t, err)
	assert.Equal(t, compiled.Program.ID(), back.ID())
}

func TestRetry(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}
	tests := []struct {
		name  string
		errs  []error
		calls int
		fails bool
	}{
		{"immediate success", []error{nil}, 1, false},
		{"permanent error", []error{errors.New("syntax error")}, 1, true},
		{"busy then success", []error{errors.New("SQLITE_BUSY"), errors.New("database is locked"), nil}, 3, false},
		{"always busy", []error{errors.New("(5)"), errors.New("(5)"), errors.New("(5)"), errors.New("(5)")}, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOp(cfg, func() error {
				err := tt.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.calls, calls)
			assert.Equal(t, tt.fails, err != nil)
		})
	}
	assert.False(t, isTransient(nil))
	assert.True(t, isTransient(errors.New("sqlite: (522) short read")))
}
