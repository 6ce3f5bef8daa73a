package audit

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sms-bridge/internal/model"
	"sms-bridge/internal/util"
)

// Buffer is the Redis list the sink appends to.
type Buffer interface {
	AppendAudit(event *model.AuditEvent) error
}

// Sink records validation decisions. Writes are fire-and-forget: a buffer
// failure is logged but never surfaces to the caller, so an audit outage
// cannot block verification traffic.
type Sink struct {
	buffer Buffer
}

func NewSink(buffer Buffer) *Sink {
	return &Sink{buffer: buffer}
}

// Record buffers one decision event.
func (s *Sink) Record(mobile, checkName string, status model.CheckStatus, reason string) {
	event := &model.AuditEvent{
		EventID:    uuid.New().String(),
		Mobile:     mobile,
		CheckName:  checkName,
		Status:     status,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}

	if err := s.buffer.AppendAudit(event); err != nil {
		util.Warn("Dropped audit event",
			zap.String("check", checkName),
			zap.String("mobile", util.MaskMobile(mobile)),
			zap.Error(err))
	}
}
