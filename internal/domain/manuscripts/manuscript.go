package manuscripts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/inkpress-backend/internal/domain/user"
)

// Lifecycle states. Mutated only by the pipeline once the manuscript leaves
// "uploaded".
const (
	StatusUploaded  = "uploaded"
	StatusQueued    = "queued"
	StatusAnalyzing = "analyzing"
	StatusAnalyzed  = "analyzed"
	StatusFailed    = "failed"
	StatusExported  = "exported"
)

type Manuscript struct {
	ID     uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *user.User `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`

	Title        string `gorm:"column:title;not null" json:"title"`
	OriginalName string `gorm:"column:original_name;not null" json:"original_name"`
	Genre        string `gorm:"column:genre" json:"genre"`
	MimeType     string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes    int64  `gorm:"column:size_bytes" json:"size_bytes"`

	// StorageKey is the object-store path "{userId}/{manuscriptId}/{filename}".
	// It doubles as the artifact prefix for pipeline outputs.
	StorageKey string `gorm:"column:storage_key;not null" json:"storage_key"`

	Status string `gorm:"column:status;not null;default:'uploaded';index" json:"status"`

	// ReportID is the public handle of the most recent pipeline run, empty
	// before the first enqueue.
	ReportID  string `gorm:"column:report_id;index" json:"report_id,omitempty"`
	WordCount int    `gorm:"column:word_count" json:"word_count"`

	// AnalysisSummary is a denormalized snapshot of the last completed run
	// so list views never have to touch the artifact store.
	AnalysisSummary datatypes.JSON `gorm:"column:analysis_summary;type:jsonb" json:"analysis_summary,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Manuscript) TableName() string { return "manuscript" }
