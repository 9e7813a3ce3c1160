package action

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/watch"
)

func pc(id string) *watch.ProcessContext {
	return &watch.ProcessContext{Current: watch.ResourceDescriptor{ResourceID: id}}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{KindDiscard, KindSpool}, r.Kinds())

	a, err := r.Build(KindDiscard, nil)
	require.NoError(t, err)
	assert.IsType(t, Discard{}, a)

	_, err = r.Build("nope", nil)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = r.Build(KindSpool, Settings{})
	assert.True(t, errors.IsInvalidRequestError(err))

	assert.Error(t, r.Register(KindSpool, NewSpoolFromSettings))
	assert.Panics(t, func() { r.MustRegister(KindDiscard, nil) })
}

func TestSpool(t *testing.T) {
	dir := t.TempDir()
	a, err := DefaultRegistry().Build(KindSpool, Settings{"dir": dir})
	require.NoError(t, err)
	ctx := context.Background()

	ext, err := a.Execute(ctx, "acme", pc("nested/a.csv"), &watch.Payload{Data: []byte("v1")})
	require.NoError(t, err)
	dest := filepath.Join(dir, "acme", "nested", "a.csv")
	assert.Equal(t, dest, ext[ExtSpoolPath])
	assert.Equal(t, 2, ext[ExtBytes])

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	_, err = a.Execute(ctx, "acme", pc("nested/a.csv"), &watch.Payload{Data: []byte("v1")})
	assert.True(t, errors.Is(err, errors.ErrNoAction))

	_, err = a.Execute(ctx, "acme", pc("nested/a.csv"), &watch.Payload{Data: []byte("v2")})
	require.NoError(t, err)
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	_, err = a.Execute(ctx, "acme", pc("../escape"), &watch.Payload{Data: []byte("x")})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestDiscard(t *testing.T) {
	ext, err := Discard{}.Execute(context.Background(), "acme", pc("a"), &watch.Payload{Data: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, 3, ext[ExtBytes])
}
