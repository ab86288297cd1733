package ws

import (
	"encoding/json"
	"time"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/cache"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/store"
)

// Client message types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinDoc      = "join-document"
	TypeLeaveDoc     = "leave-document"
	TypeDocOperation = "document-operation"
	TypeCursorUpdate = "cursor-update"
	TypeCreateBranch = "create-branch"
	TypeMergeBranch  = "merge-branch"
)

// ClientMessage is the single inbound envelope; the populated fields depend
// on Type.
type ClientMessage struct {
	Type        string          `json:"type"`
	Token       string          `json:"token,omitempty"`
	DocID       string          `json:"docId,omitempty"`
	BaseVersion uint64          `json:"baseVersion,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	Ops         delta.Delta     `json:"ops,omitempty"`
	Cursor      json.RawMessage `json:"cursor,omitempty"`
	BranchName  string          `json:"branchName,omitempty"`
	FromBranch  string          `json:"fromBranch,omitempty"`
	Source      string          `json:"source,omitempty"`
	Target      string          `json:"target,omitempty"`
}

// OutboundMessage is anything the write loop can serialize to the client.
type OutboundMessage interface {
	MessageType() string
}

type AckMessage struct {
	Type   string `json:"type"` // "ack"
	Of     string `json:"of"`
	DocID  string `json:"docId,omitempty"`
	UserID uint64 `json:"userId,omitempty"`
}

// ParticipantsMessage answers a join with the authoritative document state
// plus everyone currently present.
type ParticipantsMessage struct {
	Type    string                 `json:"type"` // "participants"
	DocID   string                 `json:"docId"`
	Content string                 `json:"content"`
	Version uint64                 `json:"version"`
	Members []cache.PresenceMember `json:"members"`
}

type PresenceChangeMessage struct {
	Type     string `json:"type"` // "user-joined" | "user-left"
	DocID    string `json:"docId"`
	UserID   uint64 `json:"userId"`
	Username string `json:"username,omitempty"`
}

// OperationMessage pushes another collaborator's applied operation.
type OperationMessage struct {
	Type        string      `json:"type"` // "operation"
	DocID       string      `json:"docId"`
	OperationID string      `json:"operationId"`
	Version     uint64      `json:"version"`
	AuthorID    uint64      `json:"authorId"`
	ClientID    string      `json:"clientId,omitempty"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt,omitempty"`
}

// OperationAckMessage confirms the submitter's own operation, carrying the
// version assigned to it.
type OperationAckMessage struct {
	Type        string `json:"type"` // "operation-ack"
	DocID       string `json:"docId"`
	OperationID string `json:"operationId"`
	BaseVersion uint64 `json:"baseVersion"`
	Version     uint64 `json:"version"`
	ClientID    string `json:"clientId"`
}

type CursorMessage struct {
	Type   string          `json:"type"` // "cursor-update"
	DocID  string          `json:"docId"`
	UserID uint64          `json:"userId"`
	Cursor json.RawMessage `json:"cursor"`
}

type BranchCreatedMessage struct {
	Type   string        `json:"type"` // "branch-created"
	DocID  string        `json:"docId"`
	Branch *store.Branch `json:"branch"`
}

type BranchMergedMessage struct {
	Type      string                `json:"type"` // "branch-merged"
	DocID     string                `json:"docId"`
	Source    string                `json:"source"`
	Target    string                `json:"target"`
	Version   uint64                `json:"version"`
	Conflicts []store.MergeConflict `json:"conflicts,omitempty"`
}

// MergeConflictMessage follows a branch-merged event whenever the heads
// disagreed; the merge still completed with the source content.
type MergeConflictMessage struct {
	Type      string                `json:"type"` // "merge-conflict"
	DocID     string                `json:"docId"`
	Source    string                `json:"source"`
	Target    string                `json:"target"`
	Conflicts []store.MergeConflict `json:"conflicts"`
}

type ErrorMessage struct {
	Type   string `json:"type"` // "error"
	Of     string `json:"of,omitempty"`
	DocID  string `json:"docId,omitempty"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (m AckMessage) MessageType() string            { return m.Type }
func (m ParticipantsMessage) MessageType() string   { return m.Type }
func (m PresenceChangeMessage) MessageType() string { return m.Type }
func (m OperationMessage) MessageType() string      { return m.Type }
func (m OperationAckMessage) MessageType() string   { return m.Type }
func (m CursorMessage) MessageType() string         { return m.Type }
func (m BranchCreatedMessage) MessageType() string  { return m.Type }
func (m BranchMergedMessage) MessageType() string   { return m.Type }
func (m MergeConflictMessage) MessageType() string  { return m.Type }
func (m ErrorMessage) MessageType() string          { return m.Type }
