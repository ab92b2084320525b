// Command smoke drives the full contract workflow against a running API:
// register users, draft, review chain, two public offers, selection, final
// approval. Exits non-zero on the first divergence.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var base = "http://localhost:8080"

func main() {
	if v := os.Getenv("CONTRACTFLOW_SMOKE_ADDR"); v != "" {
		base = v
	}
	client := &http.Client{Timeout: 10 * time.Second}
	run := rand.New(rand.NewSource(time.Now().UnixNano())).Int63()

	tokens := map[string]string{}
	for _, acct := range []struct{ key, role string }{
		{"client", "client"},
		{"procurement", "procurement"},
		{"legal", "legal"},
		{"coordinator", "coordinator"},
		{"admin", "admin"},
	} {
		email := fmt.Sprintf("smoke-%s-%d@contractflow.local", acct.key, run)
		call(client, http.MethodPost, "/v1/auth/register", "", map[string]any{
			"email":    email,
			"name":     "Smoke " + acct.key,
			"password": "smoke-test-password",
			"roles":    []string{acct.role},
		}, http.StatusCreated)
		resp := call(client, http.MethodPost, "/v1/auth/token", "", map[string]any{
			"email":    email,
			"password": "smoke-test-password",
		}, http.StatusOK)
		tokens[acct.key] = resp["token"].(string)
	}

	start := time.Now().UTC().AddDate(0, 1, 0)
	created := call(client, http.MethodPost, "/v1/contracts", tokens["client"], map[string]any{
		"title":          fmt.Sprintf("Smoke run %d", run),
		"type":           "SERVICE",
		"description":    "End to end workflow verification contract.",
		"target_persons": 2,
		"budget":         map[string]any{"minimum": 10_000, "maximum": 50_000, "currency": "EUR"},
		"start_date":     start.Format(time.RFC3339),
		"end_date":       start.AddDate(0, 6, 0).Format(time.RFC3339),
	}, http.StatusCreated)
	id := created["id"].(string)

	call(client, http.MethodPost, "/v1/contracts/"+id+"/submit", tokens["client"], nil, http.StatusOK)
	call(client, http.MethodPost, "/v1/contracts/"+id+"/review/procurement", tokens["procurement"],
		map[string]any{"approve": true}, http.StatusOK)
	opened := call(client, http.MethodPost, "/v1/contracts/"+id+"/review/legal", tokens["legal"],
		map[string]any{"approve": true}, http.StatusOK)
	if opened["status"] != "OPEN_FOR_OFFERS" {
		log.Fatalf("status after reviews: %v", opened["status"])
	}

	offerStart := start.AddDate(0, 1, 0)
	var offerID string
	for i, email := range []string{"a", "b"} {
		o := call(client, http.MethodPost, "/v1/contracts/"+id+"/offers", "", map[string]any{
			"company_name":  fmt.Sprintf("Smoke Provider %s", email),
			"contact_email": fmt.Sprintf("smoke-prov-%s-%d@example.com", email, run),
			"amount":        map[string]any{"amount": 20_000 + i*1_000, "currency": "EUR"},
			"timeline": map[string]any{
				"start": offerStart.Format(time.RFC3339),
				"end":   offerStart.AddDate(0, 3, 0).Format(time.RFC3339),
			},
			"description": "Smoke offer.",
		}, http.StatusCreated)
		if i == 0 {
			offerID = o["id"].(string)
		}
	}

	selected := call(client, http.MethodPost, "/v1/contracts/"+id+"/offers/"+offerID+"/select",
		tokens["coordinator"], map[string]any{"notes": "smoke"}, http.StatusOK)
	sc := selected["contract"].(map[string]any)
	if sc["status"] != "PENDING_FINAL_APPROVAL" {
		log.Fatalf("status after select: %v", sc["status"])
	}

	final := call(client, http.MethodPost, "/v1/contracts/"+id+"/finalize", tokens["admin"],
		map[string]any{"approve": true}, http.StatusOK)
	if final["status"] != "FINAL_APPROVED" {
		log.Fatalf("status after finalize: %v", final["status"])
	}

	trail := call(client, http.MethodGet, "/v1/audit/contract/"+id, tokens["admin"], nil, http.StatusOK)
	if items, ok := trail["items"].([]any); !ok || len(items) == 0 {
		log.Fatal("audit trail empty")
	}

	fmt.Printf("✅ contractflow smoke test passed: contract=%s offer=%s\n", id, offerID)
}

func call(client *http.Client, method, path, token string, body any, wantStatus int) map[string]any {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s %s: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d, want %d (%v)", method, path, resp.StatusCode, wantStatus, decoded)
	}
	return decoded
}
