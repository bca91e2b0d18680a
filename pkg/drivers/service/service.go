// Package service implements the KindServiceNode capability driver: it
// renders a systemd unit file for the orchestrator's per-node fan-out
// projection of a Service and drives its lifecycle over D-Bus via
// github.com/coreos/go-systemd/v22.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/types"
)

const defaultUnitDir = "/etc/systemd/system"

// Driver realizes ServiceNodeSpec targets as systemd units. One Driver
// instance runs inside the agent process on the node the units are
// deployed to; unitDir is overridable for testing.
type Driver struct {
	unitDir string
	dial    func(ctx context.Context) (*dbus.Conn, error)
}

// NewDriver builds the service driver. cfg["unit_dir"] overrides the
// systemd unit directory (tests point it at a temp dir).
func NewDriver(cfg map[string]string) (capability.Driver, error) {
	unitDir := cfg["unit_dir"]
	if unitDir == "" {
		unitDir = defaultUnitDir
	}
	return &Driver{
		unitDir: unitDir,
		dial:    dbus.NewSystemConnectionContext,
	}, nil
}

func (d *Driver) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindServiceNode}
}

func (d *Driver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "dial systemd")
	}
	defer conn.Close()

	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{"genesis-*.service"})
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "list systemd units")
	}
	out := make([]capability.Actual, 0, len(units))
	for _, u := range units {
		status := types.StatusActive
		if u.ActiveState != "active" {
			status = types.StatusError
		}
		specJSON, _ := json.Marshal(types.ServiceNodeSpec{UnitName: u.Name})
		out = append(out, capability.Actual{
			Resource: types.WireResource{
				UUID:   strings.TrimSuffix(u.Name, ".service"),
				Kind:   string(capability.KindServiceNode),
				Status: status,
				Spec:   specJSON,
			},
		})
	}
	return out, nil
}

func (d *Driver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	var spec types.ServiceNodeSpec
	if err := json.Unmarshal(target.Spec, &spec); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrValidation, err, "decode service node spec")
	}
	if err := types.ValidateHooks(spec.Before, spec.After); err != nil {
		return capability.Actual{}, err
	}

	unitName := spec.UnitName
	if unitName == "" {
		unitName = "genesis-" + target.UUID + ".service"
	}
	unitContent := renderUnit(spec)
	unitPath := filepath.Join(d.unitDir, unitName)
	if err := os.WriteFile(unitPath, []byte(unitContent), 0o644); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "write unit file %s", unitPath)
	}

	conn, err := d.dial(ctx)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "dial systemd")
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "reload systemd daemon")
	}

	resultCh := make(chan string, 1)
	if spec.Kind == types.ServiceOneshot || spec.Kind == types.ServiceMonopolyOneshot {
		_, err = conn.StartUnitContext(ctx, unitName, "replace", resultCh)
	} else {
		_, err = conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true)
		if err == nil {
			_, err = conn.StartUnitContext(ctx, unitName, "replace", resultCh)
		}
	}
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "start unit %s", unitName)
	}
	if res := <-resultCh; res != "done" {
		return capability.Actual{}, types.NewError(types.ErrTransient, "unit %s start result: %s", unitName, res)
	}

	return d.actualFor(target, unitName), nil
}

func (d *Driver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	return d.Create(ctx, target)
}

func (d *Driver) Delete(ctx context.Context, actual capability.Actual) error {
	var spec types.ServiceNodeSpec
	_ = json.Unmarshal(actual.Resource.Spec, &spec)
	unitName := spec.UnitName
	if unitName == "" {
		unitName = "genesis-" + actual.Resource.UUID + ".service"
	}

	conn, err := d.dial(ctx)
	if err != nil {
		return types.WrapError(types.ErrTransient, err, "dial systemd")
	}
	defer conn.Close()

	resultCh := make(chan string, 1)
	if _, err := conn.StopUnitContext(ctx, unitName, "replace", resultCh); err == nil {
		<-resultCh
	}
	_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)

	unitPath := filepath.Join(d.unitDir, unitName)
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.ErrTransient, err, "remove unit file %s", unitPath)
	}
	return conn.ReloadContext(ctx)
}

func (d *Driver) actualFor(target types.WireResource, unitName string) capability.Actual {
	var spec types.ServiceNodeSpec
	_ = json.Unmarshal(target.Spec, &spec)
	spec.UnitName = unitName
	specJSON, _ := json.Marshal(spec)
	return capability.Actual{
		Resource: types.WireResource{
			UUID:      target.UUID,
			Kind:      string(capability.KindServiceNode),
			ProjectID: target.ProjectID,
			Version:   target.Version,
			Status:    types.StatusActive,
			Spec:      specJSON,
		},
		ConvergedVersion: target.Version,
	}
}

// renderUnit produces the unit file body. Simple/monopoly services are
// Type=simple with Restart=on-failure; oneshot variants are Type=oneshot
// with no restart, per spec.md §4.8.
func renderUnit(spec types.ServiceNodeSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\nDescription=genesis-core managed service %s\n", spec.ServiceID)
	for _, h := range spec.Before {
		if h.Kind == types.HookShell {
			fmt.Fprintf(&b, "ExecStartPre=%s\n", h.Cmd)
		}
	}
	b.WriteString("\n[Service]\n")
	switch spec.Kind {
	case types.ServiceOneshot, types.ServiceMonopolyOneshot:
		b.WriteString("Type=oneshot\n")
	default:
		b.WriteString("Type=simple\nRestart=on-failure\nRestartSec=5\n")
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", spec.Command)
	if spec.User != "" {
		fmt.Fprintf(&b, "User=%s\n", spec.User)
	}
	if spec.Group != "" {
		fmt.Fprintf(&b, "Group=%s\n", spec.Group)
	}
	for _, e := range spec.Env {
		fmt.Fprintf(&b, "Environment=%s\n", e)
	}
	for _, h := range spec.After {
		if h.Kind == types.HookShell {
			fmt.Fprintf(&b, "ExecStartPost=%s\n", h.Cmd)
		}
	}
	b.WriteString("\n[Install]\nWantedBy=multi-user.target\n")
	return b.String()
}
