package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// fanoutService expands one Service target into one-or-more ServiceNode
// targets, per spec.md §4.8: a Node-targeted service expands to exactly
// one ServiceNode; a NodeSet-targeted simple/oneshot service expands to
// one ServiceNode per live member; a NodeSet-targeted monopoly/
// monopoly_oneshot service expands to exactly one ServiceNode, on the
// deterministic election winner. Re-running fanoutService for the same
// Service is idempotent: ServiceNode identifiers are derived from
// (service id, node id), and an unchanged spec is left untouched.
func fanoutService(ctx context.Context, store storage.Store, sched *scheduler.Scheduler, projectID string, svc types.WireResource) error {
	var spec types.ServiceSpec
	if err := json.Unmarshal(svc.Spec, &spec); err != nil {
		return types.WrapError(types.ErrValidation, err, "decode service spec")
	}
	if err := types.ValidateHooks(spec.Before, spec.After); err != nil {
		return err
	}

	nodeIDs, err := resolveFanoutNodes(store, sched, ctx, projectID, spec)
	if err != nil {
		return err
	}

	for _, nodeID := range nodeIDs {
		if err := upsertServiceNode(ctx, store, svc, spec, nodeID); err != nil {
			return err
		}
	}
	return nil
}

func resolveFanoutNodes(store storage.Store, sched *scheduler.Scheduler, ctx context.Context, projectID string, spec types.ServiceSpec) ([]string, error) {
	if spec.Target.Kind == types.TargetNode {
		return []string{spec.Target.NodeID}, nil
	}

	nodeSetWire, err := store.Get(ctx, types.PlaneTarget, capability.KindNodeSet, spec.Target.NodeSetID)
	if err != nil {
		return nil, err
	}
	var nodeSet types.NodeSet
	if err := json.Unmarshal(nodeSetWire.Spec, &nodeSet.Spec); err != nil {
		return nil, types.WrapError(types.ErrValidation, err, "decode node set spec")
	}
	nodeSet.ID = nodeSetWire.UUID

	switch spec.Kind {
	case types.ServiceMonopoly, types.ServiceMonopolyOneshot:
		winner, err := sched.ElectMonopoly(nodeSet)
		if err != nil {
			return nil, err
		}
		return []string{winner}, nil
	default:
		return sched.FanoutTargets(nodeSet), nil
	}
}

func upsertServiceNode(ctx context.Context, store storage.Store, svc types.WireResource, spec types.ServiceSpec, nodeID string) error {
	id := fmt.Sprintf("%s:%s", svc.UUID, nodeID)
	nodeSpec := types.ServiceNodeSpec{
		ServiceID: svc.UUID,
		NodeID:    nodeID,
		UnitName:  fmt.Sprintf("genesis-%s.service", id),
		Kind:      spec.Kind,
		Command:   spec.Command,
		User:      spec.User,
		Group:     spec.Group,
		Before:    spec.Before,
		After:     spec.After,
		Env:       spec.Env,
	}
	specJSON, err := json.Marshal(nodeSpec)
	if err != nil {
		return types.WrapError(types.ErrPermanent, err, "encode service node spec")
	}

	existing, err := store.Get(ctx, types.PlaneTarget, capability.KindServiceNode, id)
	if err != nil {
		if types.AsError(err).Kind != types.ErrNotFound {
			return err
		}
		return store.Create(ctx, types.PlaneTarget, capability.KindServiceNode, types.WireResource{
			UUID:      id,
			Kind:      string(capability.KindServiceNode),
			ProjectID: svc.ProjectID,
			Version:   1,
			Status:    types.StatusNew,
			Spec:      specJSON,
		})
	}

	if bytes.Equal(existing.Spec, specJSON) {
		return nil
	}
	_, err = store.CompareAndSwap(ctx, types.PlaneTarget, capability.KindServiceNode, id, existing.Version, func(r *types.WireResource) error {
		r.Spec = specJSON
		return nil
	})
	return err
}
