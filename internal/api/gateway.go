package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"splithappens/internal/core"
)

// Gateway issues backend calls on behalf of one browser session.
type Gateway struct {
	client *Client
	creds  Credentials
}

type receiptEnvelope struct {
	Receipt core.Receipt `json:"receipt"`
}

type analysesEnvelope struct {
	Analyses []core.Receipt `json:"analyses"`
}

func (g *Gateway) token() string {
	if g.creds == nil {
		return ""
	}
	return g.creds.Token()
}

func (g *Gateway) call(ctx context.Context, op, method, path string, payload, out any) error {
	req, err := jsonRequest(op, method, path, payload)
	if err != nil {
		return err
	}
	return g.client.do(ctx, g.token(), req, out)
}

// session calls decode an identity and adopt any token it carries.
func (g *Gateway) session(ctx context.Context, op, method, path string, payload any) (core.SessionIdentity, error) {
	var id core.SessionIdentity
	if err := g.call(ctx, op, method, path, payload, &id); err != nil {
		return core.SessionIdentity{}, err
	}
	if id.SessionToken != "" && g.creds != nil {
		g.creds.SetToken(id.SessionToken)
	}
	return id, nil
}

func (g *Gateway) FetchSession(ctx context.Context) (core.SessionIdentity, error) {
	return g.session(ctx, "session_me", http.MethodGet, "session/me/", nil)
}

func (g *Gateway) CreateHousehold(ctx context.Context, in core.CreateHouseholdInput) (core.SessionIdentity, error) {
	return g.session(ctx, "household_create", http.MethodPost, "households/create/", in)
}

func (g *Gateway) Login(ctx context.Context, in core.LoginInput) (core.SessionIdentity, error) {
	return g.session(ctx, "session_login", http.MethodPost, "session/login/", in)
}

// Logout ends the backend session. The token is forgotten only once the
// backend confirmed it.
func (g *Gateway) Logout(ctx context.Context) error {
	err := g.call(ctx, "session_logout", http.MethodPost, "session/logout/", nil, nil)
	if err == nil && g.creds != nil {
		g.creds.SetToken("")
	}
	return err
}

// AnalyzeReceipt uploads an image as the multipart field "image".
func (g *Gateway) AnalyzeReceipt(ctx context.Context, filename, contentType string, image io.Reader) (core.Receipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return core.Receipt{}, fmt.Errorf("create image part: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return core.Receipt{}, fmt.Errorf("copy image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return core.Receipt{}, fmt.Errorf("close multipart: %w", err)
	}

	var env receiptEnvelope
	req := request{
		op:          "analyze",
		method:      http.MethodPost,
		path:        "analyze/",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}
	if err := g.client.do(ctx, g.token(), req, &env); err != nil {
		return core.Receipt{}, err
	}
	return env.Receipt, nil
}

func (g *Gateway) CreateManualExpense(ctx context.Context, in core.ManualExpense) (core.Receipt, error) {
	var env receiptEnvelope
	if err := g.call(ctx, "manual_create", http.MethodPost, "manual/", in, &env); err != nil {
		return core.Receipt{}, err
	}
	return env.Receipt, nil
}

// UpdateItemAssignments sends the positional split of a receipt.
func (g *Gateway) UpdateItemAssignments(ctx context.Context, req core.SaveRequest) (core.Receipt, error) {
	var env receiptEnvelope
	path := strconv.FormatInt(req.ReceiptID, 10) + "/items/"
	if err := g.call(ctx, "item_assignments", http.MethodPatch, path, req, &env); err != nil {
		return core.Receipt{}, err
	}
	return env.Receipt, nil
}

func (g *Gateway) DeleteReceipt(ctx context.Context, id int64) error {
	return g.call(ctx, "receipt_delete", http.MethodDelete, strconv.FormatInt(id, 10)+"/", nil, nil)
}

func (g *Gateway) ListAnalyses(ctx context.Context) ([]core.Receipt, error) {
	var env analysesEnvelope
	if err := g.call(ctx, "analyses", http.MethodGet, "analyses/", nil, &env); err != nil {
		return nil, err
	}
	return env.Analyses, nil
}

func (g *Gateway) FetchDashboard(ctx context.Context) (core.DashboardSnapshot, error) {
	var dash core.DashboardSnapshot
	err := g.call(ctx, "dashboard", http.MethodGet, "dashboard/", nil, &dash)
	return dash, err
}

func (g *Gateway) FetchExpensesOverview(ctx context.Context) (core.ExpensesOverview, error) {
	var ov core.ExpensesOverview
	err := g.call(ctx, "expenses_overview", http.MethodGet, "expenses/", nil, &ov)
	return ov, err
}

func (g *Gateway) Settle(ctx context.Context) (core.SettleResult, error) {
	var res core.SettleResult
	err := g.call(ctx, "settle", http.MethodPost, "settle/", nil, &res)
	return res, err
}
