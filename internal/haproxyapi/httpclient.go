package haproxyapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

// Options configures the HTTP Dataplane client.
type Options struct {
	BaseURL    string
	APIVersion string
	Username   string
	Password   string
	Timeout    time.Duration
	VerifySSL  bool
}

// httpClient is the resty-backed Client implementation. resty is used
// rather than hand-rolled net/http calls because every request here follows
// the same shape: JSON body in, JSON body or typed error out, Basic auth,
// per-request timeout -- exactly what a structured REST client is for.
type httpClient struct {
	rc  *resty.Client
	api string
}

// NewHTTPClient builds a Dataplane API client against opts.BaseURL.
func NewHTTPClient(opts Options) Client {
	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetBasicAuth(opts.Username, opts.Password).
		SetTimeout(opts.Timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: !opts.VerifySSL}) //nolint:gosec // verify_ssl is operator-controlled

	return &httpClient{rc: rc, api: opts.APIVersion}
}

func (c *httpClient) path(format string, args ...interface{}) string {
	return "/" + c.api + fmt.Sprintf(format, args...)
}

type versionResponse struct {
	Version int `json:"version"`
}

func (c *httpClient) ConfigurationVersion(ctx context.Context) (int, error) {
	var v versionResponse
	resp, err := c.rc.R().SetContext(ctx).SetResult(&v).Get(c.path("/services/haproxy/configuration/version"))
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, &Error{Op: "configuration_version", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return v.Version, nil
}

type transactionResponse struct {
	ID string `json:"id"`
}

func (c *httpClient) CreateTransaction(ctx context.Context, version int) (string, error) {
	var t transactionResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("version", fmt.Sprintf("%d", version)).
		SetResult(&t).
		Post(c.path("/services/haproxy/transactions"))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", &Error{Op: "create_transaction", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return t.ID, nil
}

func (c *httpClient) CommitTransaction(ctx context.Context, txnID string) error {
	resp, err := c.rc.R().SetContext(ctx).Put(c.path("/services/haproxy/transactions/%s", txnID))
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusConflict {
		return &ErrVersionConflict{TxnID: txnID}
	}
	if resp.IsError() {
		return &Error{Op: "commit_transaction", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func (c *httpClient) DeleteTransaction(ctx context.Context, txnID string) error {
	resp, err := c.rc.R().SetContext(ctx).Delete(c.path("/services/haproxy/transactions/%s", txnID))
	if err != nil {
		return err
	}
	// Idempotent: a transaction that's already gone is not an error.
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return &Error{Op: "delete_transaction", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

type backendWire struct {
	Name    string                 `json:"name"`
	Mode    string                 `json:"mode"`
	Balance map[string]string      `json:"balance"`
	Extra   map[string]interface{} `json:"-"`
}

func (c *httpClient) GetBackend(ctx context.Context, name, txnID string) (*Backend, error) {
	var wire backendWire
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("transaction_id", txnID).
		SetResult(&wire).
		Get(c.path("/services/haproxy/configuration/backends/%s", name))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, &Error{Op: "get_backend", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &Backend{Name: wire.Name, Mode: wire.Mode, Balance: wire.Balance["algorithm"]}, nil
}

func (c *httpClient) CreateBackend(ctx context.Context, payload Backend, txnID string) error {
	body := map[string]interface{}{
		"name":    payload.Name,
		"mode":    payload.Mode,
		"balance": map[string]string{"algorithm": payload.Balance},
	}
	// backend_options fragments are operator-authored overlays, so they win
	// on conflict with the fields above.
	if err := mergo.Merge(&body, map[string]interface{}(payload.Extra), mergo.WithOverride); err != nil {
		return errors.Wrap(err, "merge backend_options")
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("transaction_id", txnID).
		SetBody(body).
		Post(c.path("/services/haproxy/configuration/backends"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &Error{Op: "create_backend", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

type serverWire struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Maintenance string `json:"maintenance,omitempty"`
	Check       string `json:"check,omitempty"`
	Weight      int    `json:"weight,omitempty"`
	Backup      string `json:"backup,omitempty"`
	Cookie      string `json:"cookie,omitempty"`
}

func toWire(s Server) serverWire {
	w := serverWire{Name: s.Name, Address: s.Address, Port: s.Port, Weight: s.Weight, Cookie: s.Cookie}
	if s.Maintenance {
		w.Maintenance = "enabled"
	} else {
		w.Maintenance = "disabled"
	}
	if s.Check {
		w.Check = "enabled"
	} else {
		w.Check = "disabled"
	}
	if s.Backup {
		w.Backup = "enabled"
	} else {
		w.Backup = "disabled"
	}
	return w
}

func fromWire(w serverWire) Server {
	return Server{
		Name:        w.Name,
		Address:     w.Address,
		Port:        w.Port,
		Maintenance: w.Maintenance == "enabled",
		Check:       w.Check != "disabled",
		Weight:      w.Weight,
		Backup:      w.Backup == "enabled",
		Cookie:      w.Cookie,
	}
}

func (c *httpClient) GetServers(ctx context.Context, backend, txnID string) ([]Server, error) {
	var wire []serverWire
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("backend", backend).
		SetQueryParam("transaction_id", txnID).
		SetResult(&wire).
		Get(c.path("/services/haproxy/configuration/servers"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &Error{Op: "get_servers", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	out := make([]Server, 0, len(wire))
	for _, w := range wire {
		out = append(out, fromWire(w))
	}
	return out, nil
}

func (c *httpClient) CreateServer(ctx context.Context, backend string, payload Server, txnID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("backend", backend).
		SetQueryParam("transaction_id", txnID).
		SetBody(toWire(payload)).
		Post(c.path("/services/haproxy/configuration/servers"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &Error{Op: "create_server", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func (c *httpClient) ReplaceServer(ctx context.Context, backend, name string, payload Server, txnID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("backend", backend).
		SetQueryParam("transaction_id", txnID).
		SetBody(toWire(payload)).
		Put(c.path("/services/haproxy/configuration/servers/%s", name))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &Error{Op: "replace_server", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func (c *httpClient) DeleteServer(ctx context.Context, backend, name, txnID string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("backend", backend).
		SetQueryParam("transaction_id", txnID).
		Delete(c.path("/services/haproxy/configuration/servers/%s", name))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &Error{Op: "delete_server", StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}
