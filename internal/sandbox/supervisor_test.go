package sandbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentcore/internal/common/logger"
)

type fakeDriver struct {
	creates  atomic.Int32
	handles  map[string]*Handle
	healthy  bool
}

func newFakeDriver(healthy bool) *fakeDriver {
	return &fakeDriver{handles: make(map[string]*Handle), healthy: healthy}
}

func (f *fakeDriver) Name() string { return "fake" }

func (f *fakeDriver) Create(_ context.Context, req CreateRequest) (*Handle, error) {
	f.creates.Add(1)
	h := &Handle{SessionID: req.SessionID, Name: req.Name, Driver: f.Name()}
	f.handles[req.SessionID] = h
	return h, nil
}

func (f *fakeDriver) Probe(_ context.Context, h *Handle) (HealthState, error) {
	if f.healthy {
		return HealthHealthy, nil
	}
	return HealthUnhealthy, nil
}

func (f *fakeDriver) Stop(_ context.Context, h *Handle) error {
	delete(f.handles, h.SessionID)
	return nil
}

func (f *fakeDriver) List(_ context.Context) ([]*Handle, error) {
	var out []*Handle
	for _, h := range f.handles {
		out = append(out, h)
	}
	return out, nil
}

func TestGetOrCreate_CollapsesConcurrentCalls(t *testing.T) {
	driver := newFakeDriver(true)
	sup := New(driver, logger.Default())

	const n = 8
	results := make(chan *Handle, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			h, err := sup.GetOrCreate(context.Background(), CreateRequest{SessionID: "sess-1"})
			results <- h
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		require.NotNil(t, <-results)
	}

	assert.Equal(t, int32(1), driver.creates.Load())
}

func TestGetOrCreate_DerivesStableName(t *testing.T) {
	driver := newFakeDriver(true)
	sup := New(driver, logger.Default())

	h1, err := sup.GetOrCreate(context.Background(), CreateRequest{SessionID: "sess-a"})
	require.NoError(t, err)

	assert.Equal(t, DeriveHandleName("sess-a"), h1.Name)
}

func TestGetOrCreate_UnhealthyFails(t *testing.T) {
	driver := newFakeDriver(false)
	sup := New(driver, logger.Default())
	sup.probeAttempts = 2
	sup.probeInterval = time.Millisecond

	_, err := sup.GetOrCreate(context.Background(), CreateRequest{SessionID: "sess-b"})
	require.Error(t, err)
}

func TestStop_UntracksHandle(t *testing.T) {
	driver := newFakeDriver(true)
	sup := New(driver, logger.Default())

	_, err := sup.GetOrCreate(context.Background(), CreateRequest{SessionID: "sess-c"})
	require.NoError(t, err)

	require.NoError(t, sup.Stop(context.Background(), "sess-c"))
	_, ok := sup.Handle("sess-c")
	assert.False(t, ok)
}

func TestRecover_MatchesDerivedNames(t *testing.T) {
	driver := newFakeDriver(true)
	sup := New(driver, logger.Default())

	driver.handles["ignored"] = &Handle{Name: DeriveHandleName("sess-d"), Driver: "fake"}

	n, err := sup.Recover(context.Background(), []string{"sess-d", "sess-unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h, ok := sup.Handle("sess-d")
	require.True(t, ok)
	assert.Equal(t, "sess-d", h.SessionID)
}
