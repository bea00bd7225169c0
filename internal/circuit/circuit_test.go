package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	starts      int
	newIdentity int
	stops       int
	failStart   bool
}

func (f *fakeSupervisor) Start(ctx context.Context, dataDir string) (int, int, error) {
	f.starts++
	return 19050, 19051, nil
}

func (f *fakeSupervisor) NewIdentity(ctx context.Context) error {
	f.newIdentity++
	return nil
}

func (f *fakeSupervisor) Stop() error {
	f.stops++
	return nil
}

func TestEnsureRunningIsIdempotent(t *testing.T) {
	sup := &fakeSupervisor{}
	c := New(sup, t.TempDir(), 9050, time.Second)

	require.NoError(t, c.EnsureRunning(context.Background()))
	require.NoError(t, c.EnsureRunning(context.Background()))
	assert.Equal(t, 1, sup.starts)
}

func TestProxiedRequiresRunning(t *testing.T) {
	sup := &fakeSupervisor{}
	c := New(sup, t.TempDir(), 9050, time.Second)

	_, err := c.Proxied()
	assert.Error(t, err)

	require.NoError(t, c.EnsureRunning(context.Background()))
	client, err := c.Proxied()
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewIdentityDelegates(t *testing.T) {
	sup := &fakeSupervisor{}
	c := New(sup, t.TempDir(), 9050, time.Second)
	require.NoError(t, c.EnsureRunning(context.Background()))
	require.NoError(t, c.NewIdentity(context.Background()))
	assert.Equal(t, 1, sup.newIdentity)
}

func TestStopDelegatesOnce(t *testing.T) {
	sup := &fakeSupervisor{}
	c := New(sup, t.TempDir(), 9050, time.Second)
	require.NoError(t, c.EnsureRunning(context.Background()))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, 1, sup.stops)
}
