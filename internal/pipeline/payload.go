package pipeline

import (
	"github.com/google/uuid"
)

// QueueAnalysis is the queue name the ingress enqueues to and workers drain.
const QueueAnalysis = "analysis"

// AnalysisJob is the payload of one queued analysis run. Prefix doubles as
// the artifact key root; everything else rides along so the worker never has
// to look the owner back up for notifications or export metadata.
type AnalysisJob struct {
	ReportID     string    `json:"report_id"`
	ManuscriptID uuid.UUID `json:"manuscript_id"`
	UserID       uuid.UUID `json:"user_id"`
	Prefix       string    `json:"prefix"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Genre        string    `json:"genre"`
	StyleGuide   string    `json:"style_guide"`
}
