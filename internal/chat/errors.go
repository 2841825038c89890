package chat

import "errors"

// Chat errors.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrNotMessageAuthor     = errors.New("only the author may modify a message")
	ErrEmptyMessage         = errors.New("message content required")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrInvalidReplyTarget   = errors.New("reply target not in this conversation")
)
