package capability

// Kind is the closed, compile-time enumeration of resource kinds a
// capability driver can be registered against. Replaces the teacher
// repo's pattern of dynamic string entry points: new kinds are added here
// and in the registry, never discovered at runtime.
type Kind string

const (
	KindComputeNode  Kind = "em_core_compute_nodes"
	KindMachinePool  Kind = "em_core_machine_pools"
	KindNetwork      Kind = "em_core_networks"
	KindSubnet       Kind = "em_core_subnets"
	KindInterface    Kind = "em_core_interfaces"
	KindNodeSet      Kind = "em_core_node_sets"
	KindService      Kind = "em_core_services"
	KindServiceNode  Kind = "em_core_service_nodes"
	KindLoadBalancer Kind = "em_lb_load_balancers"
	KindVhost        Kind = "em_lb_vhosts"
	KindRoute        Kind = "em_lb_routes"
	KindBackendPool  Kind = "em_lb_backend_pools"
	KindPassword     Kind = "password"
	KindCertificate  Kind = "certificate"
	KindDNSRecord    Kind = "em_dns_records"
)

// allKinds is the full enumeration, used by Valid and AllKinds.
var allKinds = []Kind{
	KindComputeNode, KindMachinePool, KindNetwork, KindSubnet, KindInterface,
	KindNodeSet, KindService, KindServiceNode, KindLoadBalancer, KindVhost, KindRoute,
	KindBackendPool, KindPassword, KindCertificate, KindDNSRecord,
}

// HasDriver reports whether k is in the subset of AllKinds a capability driver can actually be
// registered against. KindNodeSet is deliberately excluded: a NodeSet is
// a topology declaration the orchestrator reads directly to fan out
// Services, not an entity any agent reconciles target-vs-actual, so it
// has no create/update/delete/list_actual contract to satisfy.
func (k Kind) HasDriver() bool {
	return k.Valid() && k != KindNodeSet
}

// AllKinds returns the closed enumeration of registrable kinds.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool {
	for _, candidate := range allKinds {
		if candidate == k {
			return true
		}
	}
	return false
}
