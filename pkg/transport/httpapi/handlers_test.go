package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/orchestrator"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/types"
)

// fakeAuthorizer grants or denies every check uniformly, tracking the
// need/projectID it was last asked about so tests can assert on it.
type fakeAuthorizer struct {
	allow    bool
	lastNeed string
}

func (a *fakeAuthorizer) Require(ctx context.Context, userID, need, projectID string) error {
	a.lastNeed = need
	if !a.allow {
		return types.NewError(types.ErrPermissionDenied, "denied")
	}
	return nil
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newTestServer(authz Authorizer) (*Server, *orchestrator.Assigner, *scheduler.Registry) {
	assigner := orchestrator.NewAssigner()
	registry := scheduler.NewRegistry()
	return NewServer(assigner, registry, authz, newFakeStore(), "proj1"), assigner, registry
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegisterRejectsMissingBearerToken(t *testing.T) {
	s, _, _ := newTestServer(&fakeAuthorizer{allow: true})
	rec := doRequest(t, s.Router(), http.MethodPost, "/register", types.RegisterRequest{NodeID: "n1"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRegisterDeniedByAuthorizer(t *testing.T) {
	s, _, registry := newTestServer(&fakeAuthorizer{allow: false})
	rec := doRequest(t, s.Router(), http.MethodPost, "/register", types.RegisterRequest{NodeID: "n1"}, bearerToken(t, "u1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, registry.Candidates(string(capability.KindComputeNode), time.Minute, time.Now()))
}

func TestHandleRegisterRecordsCapabilities(t *testing.T) {
	s, _, registry := newTestServer(&fakeAuthorizer{allow: true})
	rec := doRequest(t, s.Router(), http.MethodPost, "/register",
		types.RegisterRequest{NodeID: "n1", Capabilities: []string{string(capability.KindComputeNode)}},
		bearerToken(t, "u1"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	candidates := registry.Candidates(string(capability.KindComputeNode), time.Minute, time.Now())
	require.Len(t, candidates, 1)
	assert.Equal(t, "n1", candidates[0].NodeID)
}

func TestHandleFetchReturnsAssignedTargetsAndHeartbeats(t *testing.T) {
	s, assigner, registry := newTestServer(&fakeAuthorizer{allow: true})
	assigner.Assign("n1", capability.KindComputeNode, []types.WireResource{{UUID: "t1"}})

	rec := doRequest(t, s.Router(), http.MethodPost, "/fetch",
		types.TargetFetchRequest{NodeID: "n1", Kinds: []string{string(capability.KindComputeNode)}},
		bearerToken(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.TargetFetchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Targets, 1)
	assert.Equal(t, "t1", resp.Targets[0].UUID)

	candidates := registry.Candidates(string(capability.KindComputeNode), time.Minute, time.Now())
	require.Len(t, candidates, 1)
	assert.Equal(t, 1, candidates[0].Load)
}

func TestHandleAckIsAdvisoryAndReturnsNoContent(t *testing.T) {
	s, _, _ := newTestServer(&fakeAuthorizer{allow: true})
	rec := doRequest(t, s.Router(), http.MethodPost, "/ack",
		types.AssignmentAck{NodeID: "n1", IDs: []string{"t1"}}, bearerToken(t, "u1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleStatusCreatesThenUpdatesActual(t *testing.T) {
	s, _, _ := newTestServer(&fakeAuthorizer{allow: true})
	actual := types.WireResource{UUID: "n1", Kind: string(capability.KindComputeNode), ProjectID: "proj1", Version: 2, Status: types.StatusActive}

	rec := doRequest(t, s.Router(), http.MethodPost, "/status",
		types.StatusPushRequest{NodeID: "n1", Actuals: []types.WireResource{actual}, SentAt: time.Now()},
		bearerToken(t, "u1"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := s.store.Get(context.Background(), types.PlaneActual, capability.KindComputeNode, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	actual.Version = 3
	rec = doRequest(t, s.Router(), http.MethodPost, "/status",
		types.StatusPushRequest{NodeID: "n1", Actuals: []types.WireResource{actual}, SentAt: time.Now()},
		bearerToken(t, "u1"))
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err = s.store.Get(context.Background(), types.PlaneActual, capability.KindComputeNode, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
}

func TestHandleFetchRejectsMissingNodeID(t *testing.T) {
	s, _, _ := newTestServer(&fakeAuthorizer{allow: true})
	rec := doRequest(t, s.Router(), http.MethodPost, "/fetch", types.TargetFetchRequest{}, bearerToken(t, "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
