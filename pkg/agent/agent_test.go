package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := km.Lock("same-id")
			defer unlock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}(i)
	}
	wg.Wait()
	assert.Len(t, order, 5)
}

func TestKeyedMutexAllowsDifferentKeysConcurrently(t *testing.T) {
	km := newKeyedMutex()
	start := make(chan struct{})
	var running int32
	var maxConcurrent int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			unlock := km.Lock(id)
			defer unlock()
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}(id)
	}
	close(start)
	wg.Wait()
	assert.Greater(t, int(maxConcurrent), 1, "distinct identifiers should reconcile concurrently")
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		d := jitter(base)
		assert.GreaterOrEqual(t, d, base/2)
		assert.Less(t, d, base)
	}
}

// fakeDriver is an in-memory capability.Driver used to exercise the
// agent's diff logic without a real capability backend.
type fakeDriver struct {
	mu      sync.Mutex
	actuals map[string]capability.Actual
	created []string
	updated []string
	deleted []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{actuals: make(map[string]capability.Actual)}
}

func (d *fakeDriver) SupportedKinds() []capability.Kind { return []capability.Kind{capability.KindComputeNode} }

func (d *fakeDriver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]capability.Actual, 0, len(d.actuals))
	for _, a := range d.actuals {
		out = append(out, a)
	}
	return out, nil
}

func (d *fakeDriver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, target.UUID)
	act := capability.Actual{Resource: types.WireResource{UUID: target.UUID, Kind: target.Kind, Status: types.StatusActive, Version: target.Version}, ConvergedVersion: target.Version}
	d.actuals[target.UUID] = act
	return act, nil
}

func (d *fakeDriver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updated = append(d.updated, target.UUID)
	act := capability.Actual{Resource: types.WireResource{UUID: target.UUID, Kind: target.Kind, Status: types.StatusActive, Version: target.Version}, ConvergedVersion: target.Version}
	d.actuals[target.UUID] = act
	return act, nil
}

func (d *fakeDriver) Delete(ctx context.Context, actual capability.Actual) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, actual.Resource.UUID)
	delete(d.actuals, actual.Resource.UUID)
	return nil
}

func newTestAgent(t *testing.T, driver capability.Driver, orchURL, statusURL, authURL string) *Agent {
	t.Helper()
	a := New(Config{
		NodeID:           "node-1",
		AuthEndpoint:     authURL,
		OrchEndpoint:     orchURL,
		StatusEndpoint:   statusURL,
		StaticCredential: "secret",
		PollInterval:     time.Second,
	}, map[capability.Kind]capability.Driver{capability.KindComputeNode: driver})
	return a
}

func fakeAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("test-signing-key"))
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: signed})
	}))
}

func TestReconcileKindCreatesMissingActual(t *testing.T) {
	driver := newFakeDriver()
	authSrv := fakeAuthServer(t)
	defer authSrv.Close()

	a := newTestAgent(t, driver, "http://unused", "http://unused", authSrv.URL)
	targets := []types.WireResource{{UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1}}

	out := a.reconcileKind(context.Background(), capability.KindComputeNode, driver, targets)
	require.Len(t, out, 1)
	assert.Equal(t, "n1", out[0].UUID)
	assert.Equal(t, []string{"n1"}, driver.created)
}

func TestReconcileKindUpdatesExistingActual(t *testing.T) {
	driver := newFakeDriver()
	driver.actuals["n1"] = capability.Actual{Resource: types.WireResource{UUID: "n1", Version: 1}}
	authSrv := fakeAuthServer(t)
	defer authSrv.Close()

	a := newTestAgent(t, driver, "http://unused", "http://unused", authSrv.URL)
	targets := []types.WireResource{{UUID: "n1", Kind: string(capability.KindComputeNode), Version: 2}}

	out := a.reconcileKind(context.Background(), capability.KindComputeNode, driver, targets)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"n1"}, driver.updated)
	assert.Empty(t, driver.created)
}

func TestReconcileKindDeletesOrphanActual(t *testing.T) {
	driver := newFakeDriver()
	driver.actuals["gone"] = capability.Actual{Resource: types.WireResource{UUID: "gone"}}
	authSrv := fakeAuthServer(t)
	defer authSrv.Close()

	a := newTestAgent(t, driver, "http://unused", "http://unused", authSrv.URL)
	out := a.reconcileKind(context.Background(), capability.KindComputeNode, driver, nil)

	assert.Empty(t, out)
	assert.Equal(t, []string{"gone"}, driver.deleted)
}

func TestIterateFetchesDiffsAndPushesStatus(t *testing.T) {
	driver := newFakeDriver()
	authSrv := fakeAuthServer(t)
	defer authSrv.Close()

	var pushed types.StatusPushRequest
	var pushedMu sync.Mutex

	orchMux := http.NewServeMux()
	orchMux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	orchMux.HandleFunc("/fetch", func(w http.ResponseWriter, r *http.Request) {
		resp := types.TargetFetchResponse{Targets: []types.WireResource{{UUID: "n1", Kind: string(capability.KindComputeNode), Version: 1}}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	orchMux.HandleFunc("/ack", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	orchSrv := httptest.NewServer(orchMux)
	defer orchSrv.Close()

	statusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushedMu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&pushed)
		pushedMu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer statusSrv.Close()

	a := newTestAgent(t, driver, orchSrv.URL, statusSrv.URL, authSrv.URL)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	require.NoError(t, a.iterate(context.Background()))

	pushedMu.Lock()
	defer pushedMu.Unlock()
	require.Len(t, pushed.Actuals, 1)
	assert.Equal(t, "n1", pushed.Actuals[0].UUID)
}
