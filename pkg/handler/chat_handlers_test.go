package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/opsloom/opsloom/pkg/config"
	"github.com/opsloom/opsloom/pkg/db"
	"github.com/opsloom/opsloom/pkg/service"

	_ "github.com/opsloom/opsloom/pkg/tools/all"
)

func newTestRouter(t *testing.T) (*gin.Engine, *service.ChatStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Init() error: %v", err)
	}

	cfg := &config.AppConfig{}
	store := service.NewChatStore(gdb)
	ms := service.NewModelService(cfg)
	memory := service.NewMemoryManager(store, cfg, ms)
	gate := service.NewApprovalGate(cfg.ApprovalTimeout())
	orchestrator := service.NewOrchestrator(store, cfg, ms, memory, gate, nil, nil, nil)

	r := gin.New()
	api := r.Group("/api")
	NewChatHandler(orchestrator, store).RegisterRoutes(api)
	NewToolHandler().RegisterRoutes(api)
	return r, store
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTurn_ValidationStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty content", `{"content":"   "}`, http.StatusBadRequest},
		{"bad forceMode", `{"content":"hi","forceMode":"turbo"}`, http.StatusBadRequest},
		{"unknown conversation", `{"content":"hi","conversationId":"missing","forceMode":"chat"}`, http.StatusNotFound},
		{"malformed json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/chat/turn", tt.body)
			if w.Code != tt.want {
				t.Fatalf("POST /api/chat/turn %s = %d, want %d: %s", tt.name, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestConversationCRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/conversations", `{"title":"nginx debugging","mode":"debug"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var conv db.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("unmarshal conversation: %v", err)
	}
	if conv.ID == "" || conv.Mode != "debug" {
		t.Fatalf("created conversation = %+v", conv)
	}

	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+conv.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/conversations/"+conv.ID+"/archive", `{"archiveUrl":"https://example.com/archive/1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("archive = %d: %s", w.Code, w.Body.String())
	}
	var archived db.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &archived); err != nil {
		t.Fatalf("unmarshal archived: %v", err)
	}
	if archived.ArchiveURL != "https://example.com/archive/1" || archived.Status != db.ConversationStatusArchived {
		t.Fatalf("archived conversation = %+v", archived)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/conversations/"+conv.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, "/api/conversations/"+conv.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", w.Code)
	}
}

func TestConversationInvalidMode(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/conversations", `{"mode":"turbo"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("create with bad mode = %d, want 400", w.Code)
	}
}

func TestActiveConversation_AutoCreates(t *testing.T) {
	r, store := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/conversations/active", "")
	if w.Code != http.StatusOK {
		t.Fatalf("active = %d: %s", w.Code, w.Body.String())
	}
	var conv db.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if conv.ID == "" {
		t.Fatalf("active did not create a conversation")
	}

	convs, err := store.ListConversations()
	if err != nil || len(convs) != 1 {
		t.Fatalf("ListConversations() = %d, err %v", len(convs), err)
	}
}

func TestResolveApproval_UnknownGone(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/approvals/resolve", `{"toolCallId":"nope","approved":true}`)
	if w.Code != http.StatusGone {
		t.Fatalf("resolve unknown = %d, want 410", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/approvals/resolve", `{"approved":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("resolve without id = %d, want 400", w.Code)
	}
}

func TestListTools(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/tools", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list tools = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	if len(resp.Tools) == 0 {
		t.Fatalf("no tools registered")
	}

	var sawApprovalHint bool
	for _, ti := range resp.Tools {
		if ti.MayRequireApproval {
			sawApprovalHint = true
		}
	}
	if !sawApprovalHint {
		t.Fatalf("no tool reports mayRequireApproval")
	}

	w = doJSON(t, r, http.MethodGet, "/api/tools?mode=architect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list tools for architect = %d: %s", w.Code, w.Body.String())
	}
	resp.Tools = nil
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	for _, ti := range resp.Tools {
		if ti.ID == "run_command" || ti.ID == "write_file" {
			t.Fatalf("architect mode lists mutating tool %s", ti.ID)
		}
	}
}
