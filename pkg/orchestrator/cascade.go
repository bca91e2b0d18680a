package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/types"
)

// childRef names one parent->child containment edge and how to read the
// parent identifier back out of a child's target spec.
type childRef struct {
	kind     capability.Kind
	parentID func(spec json.RawMessage) string
}

// cascadeRules enumerates the containment edges that are cascaded:
// LoadBalancer -> Vhost -> Route, MachinePool -> Node, Network ->
// Subnet -> Interface, and Service -> ServiceNode. Each parent kind has
// at most one child kind. BackendPools (which Routes reference rather
// than contain) and ServiceNodes derived from a NodeSet are not
// cascaded. A parent moved to DELETING must push DELETING onto every
// live child before the
// parent row itself is removed, so an agent never reconciles an actual
// whose target has vanished out from under a still-live dependent.
var cascadeRules = map[capability.Kind]childRef{
	capability.KindLoadBalancer: {capability.KindVhost, func(s json.RawMessage) string {
		var v types.VhostSpec
		_ = json.Unmarshal(s, &v)
		return v.LoadBalancerID
	}},
	capability.KindVhost: {capability.KindRoute, func(s json.RawMessage) string {
		var r types.RouteSpec
		_ = json.Unmarshal(s, &r)
		return r.VhostID
	}},
	capability.KindMachinePool: {capability.KindComputeNode, func(s json.RawMessage) string {
		var n types.NodeSpec
		_ = json.Unmarshal(s, &n)
		return n.MachinePoolID
	}},
	capability.KindNetwork: {capability.KindSubnet, func(s json.RawMessage) string {
		var sub types.SubnetSpec
		_ = json.Unmarshal(s, &sub)
		return sub.NetworkID
	}},
	capability.KindSubnet: {capability.KindInterface, func(s json.RawMessage) string {
		var i types.InterfaceSpec
		_ = json.Unmarshal(s, &i)
		return i.SubnetID
	}},
	capability.KindService: {capability.KindServiceNode, func(s json.RawMessage) string {
		var n types.ServiceNodeSpec
		_ = json.Unmarshal(s, &n)
		return n.ServiceID
	}},
}

// cascadeOne marks every live child of parent DELETING and, once none
// remain, deletes the parent's own target row. It is called once per
// tick for every target already in DELETING status; repeated calls
// across ticks walk multi-level trees (e.g. LoadBalancer -> Vhost ->
// Route) one level per tick until the whole subtree is gone.
func cascadeOne(ctx context.Context, store storage.Store, projectID string, parent types.WireResource) error {
	rule, hasChildren := cascadeRules[capability.Kind(parent.Kind)]
	if !hasChildren {
		return store.Delete(ctx, types.PlaneTarget, capability.Kind(parent.Kind), parent.UUID)
	}

	children, err := store.List(ctx, types.PlaneTarget, rule.kind, storage.ListFilter{ProjectID: projectID})
	if err != nil {
		return err
	}

	remaining := 0
	for _, child := range children {
		if rule.parentID(child.Spec) != parent.UUID {
			continue
		}
		remaining++
		if child.Status == types.StatusDeleting {
			continue
		}
		if _, err := store.CompareAndSwap(ctx, types.PlaneTarget, rule.kind, child.UUID, child.Version, func(r *types.WireResource) error {
			r.Status = types.StatusDeleting
			return nil
		}); err != nil && types.AsError(err).Kind != types.ErrConflict {
			return err
		}
	}
	if remaining > 0 {
		return nil
	}
	return store.Delete(ctx, types.PlaneTarget, capability.Kind(parent.Kind), parent.UUID)
}
