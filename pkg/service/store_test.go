package service

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/opsloom/opsloom/pkg/db"
)

func newTestStore(t *testing.T) *ChatStore {
	t.Helper()
	gdb, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Init() error: %v", err)
	}
	return NewChatStore(gdb)
}

func TestAppendMessage_AssignsSequentialSeq(t *testing.T) {
	s := newTestStore(t)

	conv := &db.Conversation{Title: "seq test"}
	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &db.Message{ConversationID: conv.ID, Role: db.RoleUser, Content: "hi"}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("AppendMessage(%d) error: %v", i, err)
		}
		if msg.Seq != i {
			t.Fatalf("message %d got Seq %d, want %d", i, msg.Seq, i)
		}
	}

	msgs, err := s.ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("ListMessages() returned %d messages, want 3", len(msgs))
	}
}

func TestDeleteConversation_SoftDelete(t *testing.T) {
	s := newTestStore(t)

	conv := &db.Conversation{Title: "doomed"}
	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	if err := s.DeleteConversation(conv.ID); err != nil {
		t.Fatalf("DeleteConversation() error: %v", err)
	}

	if _, err := s.GetConversation(conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConversation after delete error = %v, want ErrNotFound", err)
	}

	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations() error: %v", err)
	}
	for _, c := range convs {
		if c.ID == conv.ID {
			t.Fatalf("deleted conversation still listed")
		}
	}
}

func TestCreateSummary_SupersedesPrevious(t *testing.T) {
	s := newTestStore(t)

	conv := &db.Conversation{Title: "compact me"}
	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	first := &db.Summary{ConversationID: conv.ID, FromSeq: 0, ToSeq: 5, Content: "first"}
	if err := s.CreateSummary(first); err != nil {
		t.Fatalf("CreateSummary(first) error: %v", err)
	}
	second := &db.Summary{ConversationID: conv.ID, FromSeq: 0, ToSeq: 12, Content: "second"}
	if err := s.CreateSummary(second); err != nil {
		t.Fatalf("CreateSummary(second) error: %v", err)
	}

	latest, err := s.LatestSummary(conv.ID)
	if err != nil {
		t.Fatalf("LatestSummary() error: %v", err)
	}
	if latest.Content != "second" || latest.ToSeq != 12 {
		t.Fatalf("LatestSummary() = %q covering [%d,%d), want second covering [0,12)", latest.Content, latest.FromSeq, latest.ToSeq)
	}

	// The first summary is superseded, not deleted.
	all, err := s.ListSummaries(conv.ID)
	if err != nil {
		t.Fatalf("ListSummaries() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListSummaries() returned %d summaries, want 2", len(all))
	}
	for _, sum := range all {
		if sum.Content == "first" && !sum.Superseded {
			t.Fatalf("first summary not marked superseded")
		}
	}
}

func TestForkConversation_CopiesMessagesUpToSeq(t *testing.T) {
	s := newTestStore(t)

	conv := &db.Conversation{Title: "parent"}
	if err := s.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := &db.Message{ConversationID: conv.ID, Role: db.RoleUser, Content: "m"}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("AppendMessage(%d) error: %v", i, err)
		}
	}

	fork, err := s.ForkConversation(conv.ID, 2)
	if err != nil {
		t.Fatalf("ForkConversation() error: %v", err)
	}
	if fork.ParentID == nil || *fork.ParentID != conv.ID {
		t.Fatalf("fork ParentID = %v, want %s", fork.ParentID, conv.ID)
	}

	msgs, err := s.ListMessages(fork.ID)
	if err != nil {
		t.Fatalf("ListMessages(fork) error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("fork has %d messages, want 3", len(msgs))
	}
}

func TestServerCRUD(t *testing.T) {
	s := newTestStore(t)

	srv := &db.Server{Name: "web-1", Host: "203.0.113.10", User: "root"}
	if err := s.CreateServer(srv); err != nil {
		t.Fatalf("CreateServer() error: %v", err)
	}
	if srv.Port != 22 {
		t.Fatalf("CreateServer() defaulted Port to %d, want 22", srv.Port)
	}

	got, err := s.GetServer(srv.ID)
	if err != nil {
		t.Fatalf("GetServer() error: %v", err)
	}
	if got.Name != "web-1" {
		t.Fatalf("GetServer().Name = %q, want web-1", got.Name)
	}

	if err := s.RecordDiscovery(srv.ID, db.ServerStatusOnline, db.JSONMap{"os": "ubuntu"}); err != nil {
		t.Fatalf("RecordDiscovery() error: %v", err)
	}
	got, _ = s.GetServer(srv.ID)
	if got.Status != db.ServerStatusOnline || got.DiscoveredAt == nil {
		t.Fatalf("discovery not recorded: status=%q discovered_at=%v", got.Status, got.DiscoveredAt)
	}

	if err := s.DeleteServer(srv.ID); err != nil {
		t.Fatalf("DeleteServer() error: %v", err)
	}
	if _, err := s.GetServer(srv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetServer after delete error = %v, want ErrNotFound", err)
	}
}
