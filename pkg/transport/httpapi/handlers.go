package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/types"
)

// Dotted-triple IAM needs for the four agent-facing mutations, per
// spec.md §3 invariant 5's service.resource.action convention.
const (
	needAgentRegister = "orchestrator.agent.register"
	needTargetFetch   = "orchestrator.target.fetch"
	needTargetAck     = "orchestrator.target.ack"
	needActualPush    = "orchestrator.actual.push"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !s.decodeAndAuthorize(w, r, &req, needAgentRegister) {
		return
	}
	s.registry.Register(req.NodeID, req.Capabilities, time.Now())
	w.WriteHeader(http.StatusNoContent)
}

// handleFetch doubles as the agent's heartbeat signal: the agent has no
// separate heartbeat call, so every fetch refreshes the registry's
// liveness and reported load (the size of the batch it's about to
// receive), keeping scheduler.Registry.Stale accurate between polls.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req types.TargetFetchRequest
	if !s.decodeAndAuthorize(w, r, &req, needTargetFetch) {
		return
	}
	targets := s.assigner.FetchFor(req.NodeID, req.Kinds)
	s.registry.Heartbeat(req.NodeID, len(targets), time.Now())
	writeJSON(w, http.StatusOK, types.TargetFetchResponse{Targets: targets})
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req types.AssignmentAck
	if !s.decodeAndAuthorize(w, r, &req, needTargetAck) {
		return
	}
	s.logger.Debug().Str("node_id", req.NodeID).Int("count", len(req.IDs)).Msg("assignment ack received")
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus upserts every pushed actual. Actual.Version carries the
// target version the driver converged against (what convergeKind
// compares against the target's current version), not a storage CAS
// generation counter, so this replaces the row outright on every push
// rather than going through CompareAndSwap, which always bumps version
// by one regardless of what the mutator sets. A single node is the only
// writer for a given identifier, so Delete-then-Create never races.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req types.StatusPushRequest
	if !s.decodeAndAuthorize(w, r, &req, needActualPush) {
		return
	}

	ctx := r.Context()
	for _, actual := range req.Actuals {
		kind := capability.Kind(actual.Kind)
		actual.ObservedAt = req.SentAt

		if err := s.store.Create(ctx, types.PlaneActual, kind, actual); err != nil {
			if types.AsError(err).Kind != types.ErrConflict {
				s.logger.Error().Err(err).Str("id", actual.UUID).Msg("create actual failed")
				continue
			}
			if derr := s.store.Delete(ctx, types.PlaneActual, kind, actual.UUID); derr != nil {
				s.logger.Error().Err(derr).Str("id", actual.UUID).Msg("replace actual failed")
				continue
			}
			if cerr := s.store.Create(ctx, types.PlaneActual, kind, actual); cerr != nil {
				s.logger.Error().Err(cerr).Str("id", actual.UUID).Msg("recreate actual failed")
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeAndAuthorize decodes the JSON body into req, struct-validates
// it, authenticates the bearer token, and authorizes the resulting
// principal for need. It writes the appropriate error response and
// returns false on any failure, so handlers can return immediately.
func (s *Server) decodeAndAuthorize(w http.ResponseWriter, r *http.Request, req any, need string) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, types.NewError(types.ErrValidation, "decode request body: %v", err))
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, types.NewError(types.ErrValidation, "%v", err))
		return false
	}

	userID, err := principalFrom(r)
	if err != nil {
		writeError(w, err)
		return false
	}
	if err := s.authz.Require(r.Context(), userID, need, s.projectID); err != nil {
		metrics.IAMChecksTotal.WithLabelValues("denied").Inc()
		writeError(w, err)
		return false
	}
	metrics.IAMChecksTotal.WithLabelValues("granted").Inc()
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError surfaces pkg/types' error taxonomy the way spec.md §7
// requires: HTTP status from Error.HTTPStatus(), body the
// {code, type, message} ErrorEnvelope with the type suffixed so it
// matches the "PermissionDeniedException"-style type names scenario S2
// asserts on.
func writeError(w http.ResponseWriter, err error) {
	env := types.AsError(err).Envelope()
	env.Type += "Exception"
	writeJSON(w, env.Code, env)
}
