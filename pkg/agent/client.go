package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/genesis-core/pkg/types"
)

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 10 * time.Second
)

// controlPlaneClient speaks the plain-JSON wire contract of spec.md §6 to
// the two URLs the agent meets the control plane at: orchestrator
// (target fetch + assignment ack, registration) and status (actual
// push). Every call carries a connect+read deadline per spec.md §5.
type controlPlaneClient struct {
	orchEndpoint   string
	statusEndpoint string
	tokens         *TokenCache
	httpClient     *http.Client
}

func newControlPlaneClient(orchEndpoint, statusEndpoint string, tokens *TokenCache) *controlPlaneClient {
	return &controlPlaneClient{
		orchEndpoint:   orchEndpoint,
		statusEndpoint: statusEndpoint,
		tokens:         tokens,
		httpClient: &http.Client{
			Timeout: connectTimeout + readTimeout,
		},
	}
}

func (c *controlPlaneClient) Register(ctx context.Context, req types.RegisterRequest) error {
	_, err := c.post(ctx, c.orchEndpoint+"/register", req, nil)
	return err
}

func (c *controlPlaneClient) FetchTargets(ctx context.Context, req types.TargetFetchRequest) (types.TargetFetchResponse, error) {
	var resp types.TargetFetchResponse
	_, err := c.post(ctx, c.orchEndpoint+"/fetch", req, &resp)
	return resp, err
}

func (c *controlPlaneClient) Acknowledge(ctx context.Context, req types.AssignmentAck) error {
	_, err := c.post(ctx, c.orchEndpoint+"/ack", req, nil)
	return err
}

func (c *controlPlaneClient) PushStatus(ctx context.Context, req types.StatusPushRequest) error {
	_, err := c.post(ctx, c.statusEndpoint, req, nil)
	return err
}

// post marshals body, attaches the cached bearer token, and decodes the
// response into out (if non-nil). A non-2xx response is classified by
// status code into the error taxonomy of spec.md §7.
func (c *controlPlaneClient) post(ctx context.Context, url string, body any, out any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.WrapError(types.ErrPermanent, err, "marshal request body")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout+readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.WrapError(types.ErrPermanent, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.WrapError(types.ErrTransient, err, "call %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, types.NewError(types.ErrTransient, "%s: status %d", url, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, types.NewError(types.ErrAuthRequired, "%s: status %d", url, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, types.NewError(types.ErrPermissionDenied, "%s: status %d", url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrValidation, "%s: status %d", url, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, types.WrapError(types.ErrTransient, err, "decode response from %s", url)
		}
	}
	return resp, nil
}
