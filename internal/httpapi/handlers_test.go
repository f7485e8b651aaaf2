package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agora.org/internal/ranked"
	"agora.org/internal/store/mem"
	"agora.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *mem.Store
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := mem.New()
	svc, err := ranked.NewService(store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	api := New(ReadyProbe{}, "test", svc, WithRateLimit(0, 0))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
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
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) seed(kind ranked.Kind, name string, ordinal int, owner string) string {
	c.t.Helper()
	ent, err := c.store.Seed(ranked.Entity{Kind: kind, Name: name, Ordinal: ordinal, OwnerID: owner})
	if err != nil {
		c.t.Fatalf("seed %s %s: %v", kind, name, err)
	}
	return ent.ID
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

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body := decode[map[string]any](t, resp)
		t.Fatalf("expected %d, got %d: %v", want, resp.StatusCode, body)
	}
}

func TestRoleLifecycle(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPost, "/v1/roles", map[string]any{"name": "member", "level": 0})
	expectStatus(t, resp, http.StatusCreated)
	member := decode[ranked.View](t, resp)
	if resp.Header.Get("Location") != "/v1/roles/"+member.ID {
		t.Fatalf("unexpected location: %s", resp.Header.Get("Location"))
	}

	resp = api.do(http.MethodPost, "/v1/roles", map[string]any{"name": "admin", "ordinal": 5, "description": "staff"})
	expectStatus(t, resp, http.StatusCreated)
	admin := decode[ranked.View](t, resp)

	resp = api.do(http.MethodPost, "/v1/roles", map[string]any{"name": "admin", "level": 9})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.do(http.MethodPut, "/v1/roles/"+admin.ID, map[string]any{"name": "owner", "level": 10})
	expectStatus(t, resp, http.StatusOK)
	updated := decode[ranked.View](t, resp)
	if updated.Name != "owner" || updated.Ordinal != 10 || updated.Description != "staff" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	resp = api.do(http.MethodDelete, "/v1/roles/"+admin.ID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/v1/roles/"+member.ID, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[listResponse](t, resp)
	if len(list.Items) != 1 || list.Items[0].ID != member.ID {
		t.Fatalf("unexpected roles: %+v", list.Items)
	}
}

func TestOrdinalLabelsArePerKind(t *testing.T) {
	api := newTestAPI(t)
	api.seed(ranked.KindRole, "member", 0, "")

	resp := api.do(http.MethodPost, "/v1/boards", map[string]any{"name": "general", "level": 0})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/boards", map[string]any{"name": "general"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/boards", map[string]any{"name": "general", "priority": 3})
	expectStatus(t, resp, http.StatusCreated)
	board := decode[ranked.View](t, resp)
	if board.Ordinal != 3 || board.OwnerID == "" {
		t.Fatalf("unexpected board: %+v", board)
	}
}

func TestBoardMoveMergesPosts(t *testing.T) {
	api := newTestAPI(t)
	role := api.seed(ranked.KindRole, "member", 0, "")
	src := api.seed(ranked.KindBoard, "old", 0, role)
	dst := api.seed(ranked.KindBoard, "new", 1, role)
	for _, p := range []string{"p1", "p2", "p3"} {
		if err := api.store.Attach(ranked.CollectionPosts, p, src); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}

	resp := api.do(http.MethodPost, "/v1/boards/"+src+"/move", map[string]any{"target_id": dst})
	expectStatus(t, resp, http.StatusOK)
	view := decode[ranked.View](t, resp)
	if view.ID != dst || view.Dependents[ranked.CollectionPosts] != 3 {
		t.Fatalf("unexpected target view: %+v", view)
	}

	resp = api.do(http.MethodPost, "/v1/boards/"+dst+"/move", map[string]any{"target_id": dst})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/boards/"+dst+"/move", map[string]any{"target_id": "missing"})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestBatchSwapsLevels(t *testing.T) {
	api := newTestAPI(t)
	a := api.seed(ranked.KindRole, "A", 0, "")
	b := api.seed(ranked.KindRole, "B", 1, "")

	resp := api.do(http.MethodPost, "/v1/roles/batch", map[string]any{
		"updates": []map[string]any{
			{"id": a, "name": "A", "level": 1},
			{"id": b, "name": "B", "level": 0},
		},
		"creates": []map[string]any{
			{"name": "C", "level": 2},
		},
	})
	expectStatus(t, resp, http.StatusOK)
	list := decode[listResponse](t, resp)
	if len(list.Items) != 3 {
		t.Fatalf("expected 3 roles, got %d", len(list.Items))
	}
	if list.Items[0].ID != b || list.Items[1].ID != a || list.Items[2].Name != "C" {
		t.Fatalf("unexpected order: %+v", list.Items)
	}
}

func TestBatchRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodPost, "/v1/roles/batch", map[string]any{"renames": []string{"x"}})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRouting(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodPatch, "/v1/roles", nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if resp.Header.Get("Allow") == "" {
		t.Fatalf("expected Allow header")
	}
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles/batch", nil)
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/threads", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/roles/a/b/c", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/boards", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[map[string]any](t, resp)
	if items, ok := list["items"].([]any); !ok || len(items) != 0 {
		t.Fatalf("expected empty items array, got %v", list["items"])
	}
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodGet, "/healthz", nil)
	expectStatus(t, resp, http.StatusOK)
	body := decode[map[string]any](t, resp)
	if body["version"] != "test" {
		t.Fatalf("unexpected version: %v", body["version"])
	}

	resp = api.do(http.MethodGet, "/readyz", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestEventsStreamCommittedChanges(t *testing.T) {
	api := newTestAPI(t)
	roleID := api.seed(ranked.KindRole, "member", 0, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/events?kind=roles", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()
	next := func() string {
		t.Helper()
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream")
		}
		return ""
	}
	if line := next(); line != ": stream started" {
		t.Fatalf("unexpected preamble %q", line)
	}

	board := api.do(http.MethodPost, "/v1/boards", map[string]any{"name": "general", "priority": 0})
	expectStatus(t, board, http.StatusCreated)
	board.Body.Close()

	upd := api.do(http.MethodPut, "/v1/roles/"+roleID, map[string]any{"name": "members", "level": 1})
	expectStatus(t, upd, http.StatusOK)
	upd.Body.Close()

	for {
		line := next()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt stream.ChangeEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Kind != "role" || evt.Op != "update" || len(evt.IDs) != 1 || evt.IDs[0] != roleID {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.RequestID == "" {
			t.Fatalf("expected request id on event")
		}
		return
	}
}
