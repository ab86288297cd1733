package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/auth"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/cache"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/collab"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/ot/delta"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/store"
)

const submitTimeout = 200 * time.Millisecond

// Coordinator wires the collaboration services a connection needs. One
// Coordinator serves all connections.
type Coordinator struct {
	Hub      *Hub
	Service  collab.Service
	Presence cache.PresenceCache
	Branches *store.BranchManager
	Access   auth.AccessChecker
	Verifier *auth.TokenVerifier
	Sem      *collab.SemaphoreControl
}

// Conn is one websocket connection. The read loop owns all fields below
// except send, which the write loop drains.
type Conn struct {
	ws    *websocket.Conn
	coord *Coordinator
	send  chan OutboundMessage
	// sendMu orders Enqueue against closeSend; broadcasters may hold a
	// membership snapshot taken just before this connection left its rooms.
	sendMu sync.Mutex
	closed bool

	authenticated bool
	userID        uint64
	username      string
	clientID      string
	// docIDs this connection has joined, left exactly once on disconnect.
	joined map[string]struct{}
}

func newConn(ws *websocket.Conn, coord *Coordinator) *Conn {
	return &Conn{
		ws:     ws,
		coord:  coord,
		send:   make(chan OutboundMessage, 32),
		joined: make(map[string]struct{}),
	}
}

// Enqueue queues msg for delivery, dropping it when the connection cannot
// keep up or has already disconnected. Clients recover from drops by
// rejoining.
func (c *Conn) Enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) sendError(of, docID, code, detail string) {
	c.Enqueue(ErrorMessage{Type: "error", Of: of, DocID: docID, Code: code, Detail: detail})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.disconnect(ctx)
		c.closeSend()
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws read error (user=%d): %v", c.userID, err)
			}
			return
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) {
	// Unauthenticated traffic gets no echo at all, only a server-side log.
	if msg.Type != TypeAuthenticate && !c.authenticated {
		log.Printf("drop %s from unauthenticated connection", msg.Type)
		return
	}
	switch msg.Type {
	case TypeAuthenticate:
		c.handleAuthenticate(msg)
	case TypeJoinDoc:
		c.handleJoin(ctx, msg)
	case TypeLeaveDoc:
		c.handleLeave(ctx, msg)
	case TypeDocOperation:
		c.handleOperation(ctx, msg)
	case TypeCursorUpdate:
		c.handleCursor(ctx, msg)
	case TypeCreateBranch:
		c.handleCreateBranch(ctx, msg)
	case TypeMergeBranch:
		c.handleMergeBranch(ctx, msg)
	default:
		c.sendError(msg.Type, msg.DocID, "UNKNOWN_TYPE", "unknown message type")
	}
}

// handleAuthenticate verifies the token and binds the connection to the
// user. Re-authenticating replaces the previous identity.
func (c *Conn) handleAuthenticate(msg ClientMessage) {
	claims, err := c.coord.Verifier.Verify(msg.Token)
	if err != nil {
		c.sendError(msg.Type, "", "INVALID_TOKEN", err.Error())
		return
	}
	c.authenticated = true
	c.userID = claims.UserID
	c.username = claims.Username
	if msg.ClientID != "" {
		c.clientID = msg.ClientID
	}
	c.Enqueue(AckMessage{Type: "ack", Of: TypeAuthenticate, UserID: c.userID})
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.sendError(msg.Type, "", "MISSING_DOC_ID", "docId is required")
		return
	}
	ok, err := c.coord.Access.CanAccess(ctx, c.userID, msg.DocID, auth.PermissionRead)
	if err != nil || !ok {
		// No echo on denied access, only the server-side record.
		log.Printf("drop join (user=%d, doc=%s): access denied err=%v", c.userID, msg.DocID, err)
		return
	}

	if _, already := c.joined[msg.DocID]; already {
		// Rejoin is a state refresh, not a second registration; otherwise the
		// eventual leave would under-count participants and presence.
		content, version, err := c.coord.Service.LoadDocumentContent(ctx, msg.DocID)
		if err != nil {
			c.sendError(msg.Type, msg.DocID, "JOIN_FAILED", err.Error())
			return
		}
		members, err := c.coord.Presence.AliveMembers(ctx, msg.DocID)
		if err != nil {
			log.Printf("presence read error (user=%d, doc=%s): %v", c.userID, msg.DocID, err)
		}
		c.Enqueue(ParticipantsMessage{
			Type:    "participants",
			DocID:   msg.DocID,
			Content: content,
			Version: version,
			Members: members,
		})
		return
	}

	content, version, err := c.coord.Service.Join(ctx, msg.DocID)
	if err != nil {
		c.sendError(msg.Type, msg.DocID, "JOIN_FAILED", err.Error())
		return
	}
	c.coord.Hub.Join(msg.DocID, c)
	c.joined[msg.DocID] = struct{}{}

	members, err := c.coord.Presence.Join(ctx, msg.DocID, c.userID, c.username)
	if err != nil {
		log.Printf("presence join error (user=%d, doc=%s): %v", c.userID, msg.DocID, err)
	}
	c.Enqueue(ParticipantsMessage{
		Type:    "participants",
		DocID:   msg.DocID,
		Content: content,
		Version: version,
		Members: members,
	})
	c.coord.Hub.BroadcastExcept(msg.DocID, c, PresenceChangeMessage{
		Type:     "user-joined",
		DocID:    msg.DocID,
		UserID:   c.userID,
		Username: c.username,
	})
}

func (c *Conn) handleLeave(ctx context.Context, msg ClientMessage) {
	if _, ok := c.joined[msg.DocID]; !ok {
		c.sendError(msg.Type, msg.DocID, "NOT_JOINED", "not in this document")
		return
	}
	c.leaveDoc(ctx, msg.DocID)
	c.Enqueue(AckMessage{Type: "ack", Of: TypeLeaveDoc, DocID: msg.DocID})
}

func (c *Conn) leaveDoc(ctx context.Context, docID string) {
	c.coord.Hub.Leave(docID, c)
	delete(c.joined, docID)
	c.coord.Service.Leave(docID)
	if c.clientID != "" {
		c.coord.Service.ReleaseClient(docID, c.clientID)
	}
	if err := c.coord.Presence.Leave(ctx, docID, c.userID); err != nil {
		log.Printf("presence leave error (user=%d, doc=%s): %v", c.userID, docID, err)
	}
	c.coord.Hub.Broadcast(docID, PresenceChangeMessage{
		Type:     "user-left",
		DocID:    docID,
		UserID:   c.userID,
		Username: c.username,
	})
}

func (c *Conn) handleOperation(ctx context.Context, msg ClientMessage) {
	if _, ok := c.joined[msg.DocID]; !ok {
		c.sendError(msg.Type, msg.DocID, "NOT_JOINED", "join the document first")
		return
	}
	ok, err := c.coord.Access.CanAccess(ctx, c.userID, msg.DocID, auth.PermissionWrite)
	if err != nil || !ok {
		log.Printf("drop operation (user=%d, doc=%s): write access denied err=%v", c.userID, msg.DocID, err)
		return
	}
	clientID := msg.ClientID
	if clientID == "" {
		clientID = c.clientID
	}
	if clientID == "" {
		c.sendError(msg.Type, msg.DocID, "MISSING_CLIENT_ID", "clientId is required")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	if err := c.coord.Sem.Acquire(opCtx); err != nil {
		c.sendError(msg.Type, msg.DocID, "BUSY", err.Error())
		return
	}
	defer c.coord.Sem.Release()

	applied, err := c.coord.Service.Submit(opCtx, msg.DocID, c.userID, msg.BaseVersion, clientID, msg.Ops)
	if err != nil {
		c.sendError(msg.Type, msg.DocID, submitErrorCode(err), err.Error())
		return
	}
	if err := c.coord.Presence.Touch(ctx, msg.DocID, c.userID); err != nil {
		log.Printf("presence touch error (user=%d, doc=%s): %v", c.userID, msg.DocID, err)
	}
	c.Enqueue(OperationAckMessage{
		Type:        "operation-ack",
		DocID:       msg.DocID,
		OperationID: applied.OperationID,
		BaseVersion: msg.BaseVersion,
		Version:     applied.Version,
		ClientID:    clientID,
	})
	c.coord.Hub.BroadcastExcept(msg.DocID, c, OperationMessage{
		Type:        "operation",
		DocID:       msg.DocID,
		OperationID: applied.OperationID,
		Version:     applied.Version,
		AuthorID:    applied.AuthorID,
		ClientID:    applied.ClientID,
		Ops:         applied.Ops,
		AppliedAt:   applied.AppliedAt,
	})
}

func submitErrorCode(err error) string {
	switch {
	case errors.Is(err, collab.ErrStaleVersion):
		return collab.ErrStaleVersion.Error()
	case errors.Is(err, delta.ErrMalformedOperation):
		return delta.ErrMalformedOperation.Error()
	default:
		return "SUBMIT_FAILED"
	}
}

func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	if _, ok := c.joined[msg.DocID]; !ok {
		c.sendError(msg.Type, msg.DocID, "NOT_JOINED", "join the document first")
		return
	}
	if err := c.coord.Presence.UpdateCursor(ctx, msg.DocID, c.userID, msg.Cursor); err != nil {
		log.Printf("cursor update error (user=%d, doc=%s): %v", c.userID, msg.DocID, err)
	}
	c.coord.Hub.BroadcastExcept(msg.DocID, c, CursorMessage{
		Type:   "cursor-update",
		DocID:  msg.DocID,
		UserID: c.userID,
		Cursor: msg.Cursor,
	})
}

func (c *Conn) handleCreateBranch(ctx context.Context, msg ClientMessage) {
	if _, ok := c.joined[msg.DocID]; !ok {
		c.sendError(msg.Type, msg.DocID, "NOT_JOINED", "join the document first")
		return
	}
	br, err := c.coord.Branches.CreateBranch(ctx, msg.DocID, msg.BranchName, c.userID, msg.FromBranch)
	if err != nil {
		code := "CREATE_BRANCH_FAILED"
		if errors.Is(err, store.ErrDuplicateBranch) {
			code = store.ErrDuplicateBranch.Error()
		} else if errors.Is(err, store.ErrBranchNotFound) {
			code = store.ErrBranchNotFound.Error()
		}
		c.sendError(msg.Type, msg.DocID, code, err.Error())
		return
	}
	c.coord.Hub.Broadcast(msg.DocID, BranchCreatedMessage{
		Type:   "branch-created",
		DocID:  msg.DocID,
		Branch: br,
	})
}

func (c *Conn) handleMergeBranch(ctx context.Context, msg ClientMessage) {
	if _, ok := c.joined[msg.DocID]; !ok {
		c.sendError(msg.Type, msg.DocID, "NOT_JOINED", "join the document first")
		return
	}
	res, err := c.coord.Branches.MergeBranch(ctx, msg.DocID, msg.Source, msg.Target, c.userID)
	if err != nil {
		if res != nil {
			// Finalization failed after the heads were compared: the sender
			// alone gets the conflict report.
			c.Enqueue(MergeConflictMessage{
				Type:      "merge-conflict",
				DocID:     msg.DocID,
				Source:    msg.Source,
				Target:    msg.Target,
				Conflicts: res.Conflicts,
			})
			return
		}
		code := "MERGE_FAILED"
		if errors.Is(err, store.ErrEmptyBranch) {
			code = store.ErrEmptyBranch.Error()
		} else if errors.Is(err, store.ErrBranchNotFound) {
			code = store.ErrBranchNotFound.Error()
		}
		c.sendError(msg.Type, msg.DocID, code, err.Error())
		return
	}
	c.coord.Hub.Broadcast(msg.DocID, BranchMergedMessage{
		Type:      "branch-merged",
		DocID:     msg.DocID,
		Source:    msg.Source,
		Target:    msg.Target,
		Version:   res.MergeVersion.Version,
		Conflicts: res.Conflicts,
	})
}

// disconnect leaves every joined room exactly once.
func (c *Conn) disconnect(ctx context.Context) {
	for docID := range c.joined {
		c.leaveDoc(ctx, docID)
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}
