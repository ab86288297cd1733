package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/collab"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
)

type fakeLiveService struct {
	ops []collab.AppliedOp
}

func (f *fakeLiveService) Join(context.Context, string) (string, uint64, error) { return "", 0, nil }
func (f *fakeLiveService) Leave(string)                                         {}
func (f *fakeLiveService) Submit(context.Context, string, uint64, uint64, string, delta.Delta) (collab.AppliedOp, error) {
	return collab.AppliedOp{}, nil
}
func (f *fakeLiveService) ReleaseClient(string, string) {}
func (f *fakeLiveService) LoadDocumentContent(context.Context, string) (string, uint64, error) {
	return "hello", 3, nil
}
func (f *fakeLiveService) OpsSince(_ context.Context, _ string, fromVersion uint64, limit int) ([]collab.AppliedOp, error) {
	var out []collab.AppliedOp
	for _, op := range f.ops {
		if op.Version > fromVersion {
			out = append(out, op)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func newHistoryRouter(live collab.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &History{Live: live}
	h.Register(r)
	return r
}

func TestListOpsReturnsTailSince(t *testing.T) {
	live := &fakeLiveService{ops: []collab.AppliedOp{
		{OperationID: "op-1", Version: 1, Ops: delta.Delta{delta.Insert("a")}},
		{OperationID: "op-2", Version: 2, Ops: delta.Delta{delta.Retain(1), delta.Insert("b")}},
		{OperationID: "op-3", Version: 3, Ops: delta.Delta{delta.Retain(2), delta.Insert("c")}},
	}}
	r := newHistoryRouter(live)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/doc-1/ops?since=1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DocID string             `json:"docId"`
		Since uint64             `json:"since"`
		Ops   []collab.AppliedOp `json:"ops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DocID != "doc-1" || resp.Since != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Ops) != 2 || resp.Ops[0].Version != 2 || resp.Ops[1].Version != 3 {
		t.Fatalf("ops = %+v, want versions 2 and 3", resp.Ops)
	}
}

func TestListOpsHonorsLimit(t *testing.T) {
	live := &fakeLiveService{ops: []collab.AppliedOp{
		{OperationID: "op-1", Version: 1},
		{OperationID: "op-2", Version: 2},
	}}
	r := newHistoryRouter(live)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/docs/doc-1/ops?since=0&limit=1", nil))

	var resp struct {
		Ops []collab.AppliedOp `json:"ops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Ops) != 1 || resp.Ops[0].Version != 1 {
		t.Fatalf("ops = %+v, want just version 1", resp.Ops)
	}
}

func TestListOpsRejectsBadQuery(t *testing.T) {
	r := newHistoryRouter(&fakeLiveService{})

	for _, path := range []string{
		"/docs/doc-1/ops?since=abc",
		"/docs/doc-1/ops?limit=0",
		"/docs/doc-1/ops?limit=-3",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: status = %d, want 422", path, w.Code)
		}
	}
}
