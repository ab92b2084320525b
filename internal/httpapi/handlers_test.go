package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
	"contractflow.org/internal/contract"
	"contractflow.org/internal/offer"
	"contractflow.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("CONTRACTFLOW_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	recorder, err := audit.NewRecorder(audit.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	events := stream.New()
	engine, err := contract.NewEngine(contract.NewMemoryStore(), recorder, events)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	offerStore := offer.NewMemoryStore()
	manager, err := offer.NewManager(offerStore, offerStore, engine, recorder)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	users, err := auth.NewService(auth.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	api := New(ReadyProbe{}, "test", engine, manager, users, recorder, events)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// obtainToken registers the account and logs it in.
func (c *apiClient) obtainToken(email string, roles []string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":    email,
		"name":     "Test " + email,
		"password": "correct-horse-battery",
		"roles":    roles,
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}

	resp = c.post("/v1/auth/token", map[string]any{
		"email":    email,
		"password": "correct-horse-battery",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func contractBody() map[string]any {
	start := time.Now().UTC().AddDate(0, 1, 0)
	return map[string]any{
		"title":          "Courier services north region",
		"type":           "SERVICE",
		"description":    "Daily parcel pickup and delivery across the northern branches.",
		"target_persons": 4,
		"budget": map[string]any{
			"minimum":  100000,
			"maximum":  400000,
			"currency": "EUR",
		},
		"start_date": start.Format(time.RFC3339),
		"end_date":   start.AddDate(1, 0, 0).Format(time.RFC3339),
	}
}

func offerBody(email string) map[string]any {
	start := time.Now().UTC().AddDate(0, 2, 0)
	return map[string]any{
		"company_name":  "Speedy Couriers Ltd",
		"contact_email": email,
		"contact_role":  "Dispatch",
		"category":      "logistics",
		"amount":        map[string]any{"amount": 250000, "currency": "EUR"},
		"timeline": map[string]any{
			"start": start.Format(time.RFC3339),
			"end":   start.AddDate(0, 10, 0).Format(time.RFC3339),
		},
		"description": "Daily pickup with two vans and reserve capacity.",
	}
}

func TestFullContractWorkflowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	client := api.obtainToken("client@acme.example", []string{"client"})
	procurement := api.obtainToken("proc@corp.example", []string{"procurement"})
	legal := api.obtainToken("legal@corp.example", []string{"legal"})
	coordinator := api.obtainToken("coord@corp.example", []string{"coordinator"})
	admin := api.obtainToken("admin@corp.example", []string{"admin"})

	// Client drafts and submits.
	resp := api.post("/v1/contracts", contractBody(), client)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	created := decode[map[string]any](t, resp)
	id := created["id"].(string)
	if created["status"] != "DRAFT" {
		t.Fatalf("status after create: %v", created["status"])
	}
	if created["reference"] == "" {
		t.Fatal("reference must be assigned")
	}

	resp = api.post("/v1/contracts/"+id+"/submit", nil, client)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Procurement cannot be approved by legal: engine enforces the gate.
	resp = api.post("/v1/contracts/"+id+"/review/procurement", map[string]any{"approve": true}, legal)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong-role review status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/contracts/"+id+"/review/procurement", map[string]any{"approve": true}, procurement)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("procurement review status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/contracts/"+id+"/review/legal", map[string]any{"approve": true}, legal)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("legal review status: %d", resp.StatusCode)
	}
	opened := decode[map[string]any](t, resp)
	if opened["status"] != "OPEN_FOR_OFFERS" {
		t.Fatalf("status after legal approval: %v", opened["status"])
	}

	// Two public offer submissions, no token.
	resp = api.post("/v1/contracts/"+id+"/offers", offerBody("bids@speedy.example"), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("offer submit status: %d", resp.StatusCode)
	}
	offerA := decode[map[string]any](t, resp)

	resp = api.post("/v1/contracts/"+id+"/offers", offerBody("bids@rival.example"), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second offer submit status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Duplicate from the same provider is refused.
	resp = api.post("/v1/contracts/"+id+"/offers", offerBody("bids@speedy.example"), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate offer status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Coordinator selects offer A; sibling is rejected, contract advances.
	offerID := offerA["id"].(string)
	resp = api.post("/v1/contracts/"+id+"/offers/"+offerID+"/select", map[string]any{"notes": "best fit"}, coordinator)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status: %d", resp.StatusCode)
	}
	selection := decode[map[string]any](t, resp)
	sc := selection["contract"].(map[string]any)
	if sc["status"] != "PENDING_FINAL_APPROVAL" {
		t.Fatalf("status after select: %v", sc["status"])
	}

	resp = api.get("/v1/contracts/"+id+"/offers", nil, coordinator)
	offers := decode[map[string]any](t, resp)
	items := offers["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("offer count: %d", len(items))
	}
	var selectedSeen, rejectedSeen bool
	for _, raw := range items {
		o := raw.(map[string]any)
		switch o["status"] {
		case "SELECTED":
			selectedSeen = true
		case "REJECTED":
			rejectedSeen = true
			if o["rejection_reason"] != "Another offer was selected" {
				t.Fatalf("sibling rejection reason: %v", o["rejection_reason"])
			}
		}
	}
	if !selectedSeen || !rejectedSeen {
		t.Fatal("expected one selected and one rejected offer")
	}

	// Admin grants final approval.
	resp = api.post("/v1/contracts/"+id+"/finalize", map[string]any{"approve": true}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status: %d", resp.StatusCode)
	}
	final := decode[map[string]any](t, resp)
	if final["status"] != "FINAL_APPROVED" {
		t.Fatalf("status after finalize: %v", final["status"])
	}

	// Audit trail is reachable over HTTP and non-empty.
	resp = api.get("/v1/audit/contract/"+id, nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status: %d", resp.StatusCode)
	}
	trail := decode[map[string]any](t, resp)
	if len(trail["items"].([]any)) == 0 {
		t.Fatal("expected audit entries for the contract")
	}
}

func TestContractStreamDeliversTransitions(t *testing.T) {
	api := newTestAPI(t)
	client := api.obtainToken("client-sse@acme.example", []string{"client"})
	admin := api.obtainToken("admin-sse@corp.example", []string{"admin"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/stream/contracts", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", admin["Authorization"])
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}

	// The opening comment arrives before any event, so once it is read the
	// subscription is registered and a transition cannot be missed.
	reader := bufio.NewReader(resp.Body)
	opening, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read opening: %v", err)
	}
	if !strings.HasPrefix(opening, ":") {
		t.Fatalf("opening line: %q", opening)
	}

	r := api.post("/v1/contracts", contractBody(), client)
	created := decode[map[string]any](t, r)
	id := created["id"].(string)
	r = api.post("/v1/contracts/"+id+"/submit", nil, client)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("submit status: %d", r.StatusCode)
	}
	r.Body.Close()

	var frame string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			frame = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	var evt struct {
		ContractID string `json:"contract_id"`
		From       string `json:"from"`
		To         string `json:"to"`
	}
	if err := json.Unmarshal([]byte(frame), &evt); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if evt.ContractID != id {
		t.Errorf("event contract = %q, want %q", evt.ContractID, id)
	}
	if evt.From != "DRAFT" || evt.To != "PENDING_PROCUREMENT" {
		t.Errorf("event transition = %s -> %s", evt.From, evt.To)
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/contracts", contractBody(), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestValidationErrorsListFields(t *testing.T) {
	api := newTestAPI(t)
	client := api.obtainToken("client2@acme.example", []string{"client"})

	body := contractBody()
	body["title"] = ""
	body["target_persons"] = 50

	resp := api.post("/v1/contracts", body, client)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var payload struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]bool{"title": false, "target_persons": false}
	for _, f := range payload.Fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("fields %v missing %q", payload.Fields, f)
		}
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"email": ""}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status: %d", path, resp.StatusCode)
		}
	}
}
