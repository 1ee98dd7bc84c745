package in

import "errors"

var (
	// ErrCallNotFound 会话不存在
	ErrCallNotFound = errors.New("call session not found")

	// ErrUserBusy 任一方已在通话中
	ErrUserBusy = errors.New("user is busy in another call")

	// ErrNotParticipant 操作者不是会话参与方
	ErrNotParticipant = errors.New("user is not a participant of this call")
)
