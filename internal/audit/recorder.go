package audit

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"residence-cloud/internal/auth"
)

// Recorder builds entries from the authenticated request and writes them best
// effort: a failed write is logged and never fails the request.
type Recorder struct {
	logger Logger
	log    *logrus.Logger
}

// NewRecorder constructs a Recorder. A nil logger disables auditing.
func NewRecorder(logger Logger, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{logger: logger, log: log}
}

// Record writes one audit entry for r.
func (rec *Recorder) Record(r *http.Request, action, resourceType, resourceID, aptID string, meta map[string]any) {
	if rec == nil || rec.logger == nil || r == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	entry := Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ApartmentID:  aptID,
		Metadata:     payload,
		IP:           ClientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if err := rec.logger.Log(r.Context(), entry); err != nil {
		rec.log.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"resource_id": resourceID,
		}).Warn("audit write failed")
	}
}
