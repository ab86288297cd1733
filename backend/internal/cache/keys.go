package cache

import (
	"fmt"
	"strconv"
)

// Key layout:
// - roomKey(docID):           room members (ZSet<userId>, score = expireAt unix)
// - namesKey(docID):          userId -> username map for the room (Hash)
// - cursorKey(docID, userID): member cursor/selection JSON (String with TTL)

const (
	keyRoomFmt   = "presence:room:%s"       // ZSet<userId, expireAtUnix>
	keyNamesFmt  = "presence:room:names:%s" // Hash<userId -> username>
	keyCursorFmt = "presence:cursor:%s:%d"  // String JSON with TTL
)

func roomKey(docID string) string  { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, docID, userID)
}

func memberField(userID uint64) string { return strconv.FormatUint(userID, 10) }
