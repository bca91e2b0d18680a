// Package certificate implements the KindCertificate capability driver:
// x509 leaf issuance off an in-process CA, adapted from the teacher's
// pkg/security certificate authority.
package certificate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/security"
	"github.com/cuemby/genesis-core/pkg/types"
)

// actualSpec is the JSON shape stored on the actual row's Spec field.
type actualSpec struct {
	Name     string `json:"name"`
	CertPEM  string `json:"cert_pem"`
	KeyPEM   string `json:"key_pem"`
	NotAfter string `json:"not_after"`
}

// Driver realizes CertificateSpec targets by issuing a leaf off a shared
// CertAuthority. A CertificateSpec with IsCA returns the root instead of
// a leaf (initializing the CA on first use, reusing it afterwards),
// matching the teacher's split between root and leaf issuance.
type Driver struct {
	mu sync.Mutex
	ca *security.CertAuthority
}

func NewDriver(ca *security.CertAuthority) func(cfg map[string]string) (capability.Driver, error) {
	return func(map[string]string) (capability.Driver, error) {
		return &Driver{ca: ca}, nil
	}
}

func (d *Driver) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindCertificate}
}

func (d *Driver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	return nil, nil
}

func (d *Driver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	var spec types.CertificateSpec
	if err := json.Unmarshal(target.Spec, &spec); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrValidation, err, "decode certificate spec")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if spec.IsCA {
		if !d.ca.IsInitialized() {
			if err := d.ca.Initialize(); err != nil {
				return capability.Actual{}, types.WrapError(types.ErrTransient, err, "initialize root certificate authority")
			}
		}
		certPEM, keyPEM := d.ca.RootPEM()
		return d.actualFor(target, spec.Name, certPEM, keyPEM, "")
	}

	if !d.ca.IsInitialized() {
		return capability.Actual{}, types.NewError(types.ErrConflict, "certificate authority not initialized: issue the root certificate first")
	}

	commonName := spec.Name
	if commonName == "" {
		commonName = target.UUID
	}
	certPEM, keyPEM, notAfter, err := d.ca.IssueLeaf(commonName, spec.DNSNames)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "issue leaf certificate")
	}
	return d.actualFor(target, spec.Name, certPEM, keyPEM, notAfter.Format(time.RFC3339))
}

func (d *Driver) actualFor(target types.WireResource, name string, certPEM, keyPEM []byte, notAfter string) (capability.Actual, error) {
	specJSON, err := json.Marshal(actualSpec{Name: name, CertPEM: string(certPEM), KeyPEM: string(keyPEM), NotAfter: notAfter})
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrPermanent, err, "marshal actual spec")
	}
	return capability.Actual{
		Resource: types.WireResource{
			UUID:      target.UUID,
			Kind:      string(capability.KindCertificate),
			ProjectID: target.ProjectID,
			Version:   target.Version,
			Status:    types.StatusActive,
			Spec:      specJSON,
		},
		ConvergedVersion: target.Version,
	}, nil
}

// Update re-issues the leaf: certificates are short-lived (90 days) and
// renewal is modeled as a full replace rather than an in-place patch.
func (d *Driver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	return d.Create(ctx, target)
}

func (d *Driver) Delete(ctx context.Context, actual capability.Actual) error {
	return nil
}
