package entity

import "time"

// CallType 通话类型
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// 通话结束原因
const (
	EndReasonHangup               = "hangup"
	EndReasonRejected             = "rejected"
	EndReasonRingTimeout          = "ring_timeout"
	EndReasonPeerDisconnected     = "peer_disconnected"
	EndReasonPeerUnreachable      = "peer_unreachable"
	EndReasonRecipientUnreachable = "recipient_unreachable"
)

// CallRecord 通话归档记录，会话终结后落库
type CallRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	CallID     string `gorm:"type:varchar(64);uniqueIndex"`
	CallerID   string `gorm:"type:varchar(64);index"`
	CalleeID   string `gorm:"type:varchar(64);index"`
	CallType   string `gorm:"type:varchar(16)"`
	FinalState string `gorm:"type:varchar(16)"`
	EndReason  string `gorm:"type:varchar(32)"`
	StartedAt  time.Time
	EndedAt    time.Time
	DurationS  int64
}

// TableName 指定表名
func (CallRecord) TableName() string {
	return "call_records"
}
