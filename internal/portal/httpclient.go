package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/efdreinf/reinf-cli/internal/group"
	"github.com/efdreinf/reinf-cli/internal/resilience"
)

// HTTPClient drives the mock portal's JSON API. The form is accumulated
// client-side and posted on Submit, mirroring what the browser form does.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	retries int
	poll    time.Duration
	log     *zap.Logger

	draft *Declaration
	id    int64
}

// NewHTTPClient creates a client for the mock portal at baseURL. A nil
// client uses a 30-second default.
func NewHTTPClient(baseURL string, client *http.Client, retries int) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		retries: retries,
		poll:    200 * time.Millisecond,
		log:     zap.L().With(zap.String("component", "http_portal")),
	}
}

// FillInitialFields starts a new draft.
func (c *HTTPClient) FillInitialFields(_ context.Context, f InitialFields) (Result, error) {
	c.draft = &Declaration{
		Period:            f.Period,
		EstablishmentCNPJ: group.DigitsOnly(f.EstablishmentID),
		BeneficiaryCPF:    group.DigitsOnly(f.HeadIdentityID),
	}
	c.id = 0
	if len(c.draft.BeneficiaryCPF) != 11 {
		return Result{OK: true, ScrapedErrors: []string{"CPF do beneficiário inválido"}}, nil
	}
	return Done(), nil
}

// AdvanceToDetail asks the portal whether the declaration may be opened.
func (c *HTTPClient) AdvanceToDetail(ctx context.Context) (Result, error) {
	if c.draft == nil {
		return Result{}, eris.New("http portal: advance without initial fields")
	}
	var reply Reply
	_, err := c.call(ctx, "advance_to_detail", http.MethodPost, "/api/declaracoes/check", CheckRequest{
		Period:            c.draft.Period,
		EstablishmentCNPJ: c.draft.EstablishmentCNPJ,
		BeneficiaryCPF:    c.draft.BeneficiaryCPF,
	}, &reply)
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, ScrapedErrors: reply.Messages}, nil
}

// AddDependent appends a dependent line to the draft.
func (c *HTTPClient) AddDependent(_ context.Context, d DependentEntry) (Result, error) {
	if c.draft == nil {
		return Result{}, eris.New("http portal: add dependent without initial fields")
	}
	cpf := group.DigitsOnly(d.IdentityID)
	if len(cpf) != 11 {
		return Result{OK: true, ScrapedErrors: []string{"CPF do dependente inválido"}}, nil
	}
	if d.Code == "" {
		return Result{OK: true, ScrapedErrors: []string{"Campo obrigatório: relação de dependência"}}, nil
	}
	c.draft.Dependents = append(c.draft.Dependents, DeclaredDependent{
		CPF:         cpf,
		Relation:    d.Code,
		Description: d.OtherDescription,
	})
	return Done(), nil
}

// AddPlan appends the operator line to the draft.
func (c *HTTPClient) AddPlan(_ context.Context, p PlanEntry) (Result, error) {
	if c.draft == nil {
		return Result{}, eris.New("http portal: add plan without initial fields")
	}
	cnpj := group.DigitsOnly(p.OperatorID)
	if len(cnpj) != 14 {
		return Result{OK: true, ScrapedErrors: []string{"CNPJ da operadora inválido"}}, nil
	}
	c.draft.Plans = append(c.draft.Plans, DeclaredPlan{OperatorCNPJ: cnpj, Amount: p.HeadAmount})
	return Done(), nil
}

// AddDependentValue appends a per-dependent amount. The dependent must
// already be on the draft, as the form only offers declared dependents.
func (c *HTTPClient) AddDependentValue(_ context.Context, v DependentValueEntry) (Result, error) {
	if c.draft == nil {
		return Result{}, eris.New("http portal: add dependent value without initial fields")
	}
	cpf := group.DigitsOnly(v.DependentIdentityID)
	known := false
	for _, d := range c.draft.Dependents {
		if d.CPF == cpf {
			known = true
			break
		}
	}
	if !known {
		return Result{OK: true, ScrapedErrors: []string{"Dependente não encontrado na declaração"}}, nil
	}
	c.draft.DependentValues = append(c.draft.DependentValues, DeclaredDependentValue{CPF: cpf, Amount: v.Amount})
	return Done(), nil
}

// Submit posts the draft. A duplicate is reported as scraped text.
func (c *HTTPClient) Submit(ctx context.Context) (Result, error) {
	if c.draft == nil {
		return Result{}, eris.New("http portal: submit without initial fields")
	}
	var reply Reply
	status, err := c.call(ctx, "submit", http.MethodPost, "/submit_efd", c.draft, &reply)
	if err != nil {
		return Result{}, err
	}
	if repliesWithMessages(status) || !reply.OK {
		return Result{OK: true, ScrapedErrors: reply.Messages}, nil
	}
	c.id = reply.ID
	return Done(), nil
}

// Sign confirms the submitted declaration.
func (c *HTTPClient) Sign(ctx context.Context, method SignMethod) (Result, error) {
	if c.id == 0 {
		return Result{}, eris.New("http portal: sign before submit")
	}
	var reply Reply
	path := fmt.Sprintf("/api/declaracoes/%d/assinar", c.id)
	if _, err := c.call(ctx, "sign", http.MethodPost, path, SignRequest{Method: string(method)}, &reply); err != nil {
		return Result{}, err
	}
	if !reply.OK {
		return Result{ScrapedErrors: reply.Messages}, nil
	}
	return Done(), nil
}

// AwaitConfirmation polls the declaration until it reads as signed.
func (c *HTTPClient) AwaitConfirmation(ctx context.Context, timeout time.Duration) (Result, error) {
	if c.id == 0 {
		return Result{}, eris.New("http portal: confirmation before submit")
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	path := fmt.Sprintf("/detalhes_efd/%d", c.id)
	for {
		var decl Declaration
		if _, err := c.call(tctx, "confirmation", http.MethodGet, path, nil, &decl); err == nil && decl.Status == StatusSigned {
			return Done(), nil
		}
		select {
		case <-tctx.Done():
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, ErrConfirmationTimeout
		case <-ticker.C:
		}
	}
}

// AdvanceToNext discards the draft and checks the portal is still up.
func (c *HTTPClient) AdvanceToNext(ctx context.Context) (Result, error) {
	c.draft = nil
	c.id = 0
	if _, err := c.call(ctx, "advance_to_next", http.MethodGet, "/health", nil, nil); err != nil {
		return Result{}, err
	}
	return Done(), nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// repliesWithMessages reports statuses whose body is a Reply carrying the
// portal's messages rather than a failure.
func repliesWithMessages(status int) bool {
	return status == http.StatusConflict || status == http.StatusUnprocessableEntity
}

// call performs one JSON request with transient retries and decodes the
// body into out. 409 and 422 are returned as a status, not an error.
func (c *HTTPClient) call(ctx context.Context, action, method, path string, in, out any) (int, error) {
	return resilience.DoVal(ctx, resilience.PageRetryConfig(action, c.retries), func(ctx context.Context) (int, error) {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return 0, eris.Wrapf(err, "http portal: encode %s", action)
			}
			body = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return 0, eris.Wrapf(err, "http portal: build %s", action)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if resilience.IsTransient(err) {
				return 0, resilience.NewTransientError(action, err, 0)
			}
			return 0, eris.Wrapf(err, "http portal: %s", action)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resp.StatusCode, resilience.NewTransientError(action, eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode >= 400 && !repliesWithMessages(resp.StatusCode) {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return resp.StatusCode, eris.Errorf("http portal: %s: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, eris.Wrapf(err, "http portal: decode %s", action)
			}
		}
		c.log.Debug("http portal: call", zap.String("action", action), zap.Int("status", resp.StatusCode))
		return resp.StatusCode, nil
	})
}
