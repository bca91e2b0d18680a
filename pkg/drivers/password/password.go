// Package password implements the KindPassword capability driver: random
// or user-supplied secret material encrypted at rest with AES-256-GCM,
// adapted from the teacher's pkg/security secret-sealing idiom.
package password

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/security"
	"github.com/cuemby/genesis-core/pkg/types"
)

// actualSpec is the JSON shape stored on the actual row's Spec field: the
// sealed ciphertext, never the plaintext.
type actualSpec struct {
	Name       string `json:"name"`
	CipherText string `json:"cipher_text"` // base64
}

// Driver realizes PasswordSpec targets by generating plaintext, sealing
// it with a per-project derived key, and storing only ciphertext.
type Driver struct {
	cipherForProject func(projectID string) (*security.SecretsCipher, error)
}

// NewDriver builds the password driver. Each project's key is derived
// with security.DeriveKey(projectID); cfg is not consulted.
func NewDriver(cfg map[string]string) (capability.Driver, error) {
	return &Driver{
		cipherForProject: func(projectID string) (*security.SecretsCipher, error) {
			return security.NewSecretsCipher(security.DeriveKey(projectID))
		},
	}, nil
}

func (d *Driver) SupportedKinds() []capability.Kind {
	return []capability.Kind{capability.KindPassword}
}

// ListActual cannot recover plaintext material from ciphertext alone, so
// it has nothing to reconcile against beyond what the store already
// tracks; the driver is write-mostly. Reconciliation relies on the
// target/actual identifier match rather than re-deriving actual state.
func (d *Driver) ListActual(ctx context.Context, filter capability.Filter) ([]capability.Actual, error) {
	return nil, nil
}

func (d *Driver) Create(ctx context.Context, target types.WireResource) (capability.Actual, error) {
	var spec types.PasswordSpec
	if err := json.Unmarshal(target.Spec, &spec); err != nil {
		return capability.Actual{}, types.WrapError(types.ErrValidation, err, "decode password spec")
	}
	length := spec.Length
	if length <= 0 {
		length = 16
	}
	plaintext, err := security.GeneratePassword(length)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "generate password")
	}
	cipher, err := d.cipherForProject(target.ProjectID)
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrPermanent, err, "build secrets cipher")
	}
	sealed, err := cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrTransient, err, "seal password")
	}

	specJSON, err := json.Marshal(actualSpec{Name: spec.Name, CipherText: base64.StdEncoding.EncodeToString(sealed)})
	if err != nil {
		return capability.Actual{}, types.WrapError(types.ErrPermanent, err, "marshal actual spec")
	}

	return capability.Actual{
		Resource: types.WireResource{
			UUID:      target.UUID,
			Kind:      string(capability.KindPassword),
			ProjectID: target.ProjectID,
			Version:   target.Version,
			Status:    types.StatusActive,
			Spec:      specJSON,
		},
		ConvergedVersion: target.Version,
	}, nil
}

// Update is a no-op: password material is immutable once sealed. A
// target change (new Length, new Name) requires delete-then-create, the
// same way a MachinePool's driver field can't change in place.
func (d *Driver) Update(ctx context.Context, target types.WireResource, prior capability.Actual) (capability.Actual, error) {
	return prior, nil
}

func (d *Driver) Delete(ctx context.Context, actual capability.Actual) error {
	return nil
}
