package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/knowledge"
)

func newTestServer() *httptest.Server {
	api := &apiServer{
		svc:    knowledge.NewService(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	mux := http.NewServeMux()
	api.routes(mux)
	return httptest.NewServer(mux)
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestNodeCRUD(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, _ := do(t, "POST", srv.URL+"/api/nodes",
		`{"id":"n1","type":"concept","content":{"title":"caching"},"metadata":{"confidence":0.5}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	resp, body := do(t, "GET", srv.URL+"/api/nodes/n1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var n domain.Node
	if err := json.Unmarshal(body, &n); err != nil {
		t.Fatal(err)
	}
	if n.Content.Title != "caching" {
		t.Fatalf("node = %+v", n)
	}

	resp, _ = do(t, "PATCH", srv.URL+"/api/nodes/n1", `{"content":{"title":"cache design"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	resp, _ = do(t, "DELETE", srv.URL+"/api/nodes/n1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = do(t, "GET", srv.URL+"/api/nodes/n1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestAddNodeRejectsInvalid(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, _ := do(t, "POST", srv.URL+"/api/nodes", `{"id":"x","type":"martian"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp, _ = do(t, "POST", srv.URL+"/api/nodes", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestQueryFilters(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	do(t, "POST", srv.URL+"/api/nodes", `{"id":"c1","type":"concept","content":{"title":"a"},"metadata":{"confidence":0.9}}`)
	do(t, "POST", srv.URL+"/api/nodes", `{"id":"t1","type":"task","content":{"title":"b"},"metadata":{"confidence":0.2}}`)

	resp, body := do(t, "GET", srv.URL+"/api/nodes?types=concept&min_confidence=0.5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Nodes []domain.Node `json:"nodes"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Count != 1 || out.Nodes[0].ID != "c1" {
		t.Fatalf("query result = %+v", out)
	}

	resp, _ = do(t, "GET", srv.URL+"/api/nodes?min_confidence=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", resp.StatusCode)
	}
}

func TestRelationshipEndpointsAndValidate(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	do(t, "POST", srv.URL+"/api/nodes", `{"id":"n1","type":"concept","content":{"title":"a"}}`)
	do(t, "POST", srv.URL+"/api/nodes", `{"id":"n2","type":"task","content":{"title":"b"}}`)

	resp, _ := do(t, "POST", srv.URL+"/api/relationships",
		`{"source_id":"n1","target_id":"n2","type":"implements","strength":0.8}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add rel status = %d", resp.StatusCode)
	}

	// Missing endpoint is a 404, not a silent no-op.
	resp, _ = do(t, "POST", srv.URL+"/api/relationships",
		`{"source_id":"n1","target_id":"ghost","type":"related","strength":0.5}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dangling rel status = %d", resp.StatusCode)
	}

	resp, body := do(t, "GET", srv.URL+"/api/validate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d", resp.StatusCode)
	}
	var v knowledge.Validation
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatal(err)
	}
	if !v.IsValid {
		t.Fatalf("validation = %+v", v)
	}

	resp, body = do(t, "DELETE", srv.URL+"/api/relationships/n1/n2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete rel status = %d", resp.StatusCode)
	}
	var del map[string]int
	json.Unmarshal(body, &del)
	if del["removed"] != 1 {
		t.Fatalf("removed = %v", del)
	}
}

func TestAnalysisAndLearn(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	for _, id := range []string{"s1", "s2", "s3"} {
		do(t, "POST", srv.URL+"/api/nodes",
			`{"id":"`+id+`","type":"task","content":{"title":"`+id+`"},"metadata":{"confidence":0.5}}`)
	}
	do(t, "POST", srv.URL+"/api/relationships", `{"source_id":"s1","target_id":"s2","type":"follows","strength":0.8}`)
	do(t, "POST", srv.URL+"/api/relationships", `{"source_id":"s2","target_id":"s3","type":"follows","strength":0.8}`)

	resp, body := do(t, "POST", srv.URL+"/api/analysis", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analysis status = %d", resp.StatusCode)
	}
	var a knowledge.Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatal(err)
	}
	if len(a.Patterns) != 1 {
		t.Fatalf("patterns = %+v", a.Patterns)
	}

	resp, _ = do(t, "POST", srv.URL+"/api/learn", string(body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("learn status = %d", resp.StatusCode)
	}
	resp, body = do(t, "GET", srv.URL+"/api/nodes/s1", "")
	var n domain.Node
	json.Unmarshal(body, &n)
	if n.Metadata.Confidence <= 0.5 {
		t.Fatalf("confidence after learn = %v", n.Metadata.Confidence)
	}
}

func TestClusterEndpoint(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	resp, body := do(t, "POST", srv.URL+"/api/cluster",
		`{"vectors":[[1,0],[0.9,0.1],[0,1],[0.1,0.9]],"k":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Clusters []json.RawMessage `json:"clusters"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Clusters) != 2 {
		t.Fatalf("clusters = %d", len(out.Clusters))
	}

	resp, _ = do(t, "POST", srv.URL+"/api/cluster", `{"vectors":[],"k":2}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty set status = %d", resp.StatusCode)
	}
}

func TestUnconfiguredOptionalFeatures(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	do(t, "POST", srv.URL+"/api/nodes", `{"id":"n1","type":"concept","content":{"title":"a"}}`)

	resp, _ := do(t, "GET", srv.URL+"/api/nodes/n1/suggestions", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("suggestions status = %d", resp.StatusCode)
	}
	resp, _ = do(t, "POST", srv.URL+"/api/snapshot", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("snapshot status = %d", resp.StatusCode)
	}
	resp, _ = do(t, "GET", srv.URL+"/api/cache/stats", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("cache stats status = %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	do(t, "POST", srv.URL+"/api/nodes", `{"id":"n1","type":"concept","content":{"title":"a"},"metadata":{"confidence":0.6}}`)

	resp, body := do(t, "GET", srv.URL+"/api/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats knowledge.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Nodes != 1 || stats.NodesByType["concept"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
