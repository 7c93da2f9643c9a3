package domain

import (
	"github.com/yungbote/inkpress-backend/internal/domain/costs"
	"github.com/yungbote/inkpress-backend/internal/domain/manuscripts"
	"github.com/yungbote/inkpress-backend/internal/domain/user"
)

// Flat facade over the model subpackages so repos and services can import one
// types package.

type User = user.User
type Manuscript = manuscripts.Manuscript
type CostEntry = costs.CostEntry

const (
	TierFree       = user.TierFree
	TierPro        = user.TierPro
	TierEnterprise = user.TierEnterprise
	TierAdmin      = user.TierAdmin

	ManuscriptUploaded  = manuscripts.StatusUploaded
	ManuscriptQueued    = manuscripts.StatusQueued
	ManuscriptAnalyzing = manuscripts.StatusAnalyzing
	ManuscriptAnalyzed  = manuscripts.StatusAnalyzed
	ManuscriptFailed    = manuscripts.StatusFailed
	ManuscriptExported  = manuscripts.StatusExported

	CostCenterClaude  = costs.CostCenterClaude
	CostCenterOpenAI  = costs.CostCenterOpenAI
	CostCenterStripe  = costs.CostCenterStripe
	CostCenterStorage = costs.CostCenterStorage
)
