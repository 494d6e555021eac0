package webserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/types"
)

const maxPageSize = 100

type History struct {
	db        *gorm.DB
	sanitizer *bluemonday.Policy
}

func NewHistory(db *gorm.DB) History {
	return History{db: db, sanitizer: bluemonday.StrictPolicy()}
}

type historyVoterResponse struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Value    string `json:"value"`
}

type historyRecipientResponse struct {
	RecipientIDs       []string `json:"recipientIds"`
	RecipientNicknames []string `json:"recipientNicknames"`
	Amount             float64  `json:"amount"`
}

type historyResponse struct {
	ID                uint64                     `json:"id"`
	AuthorID          string                     `json:"authorId"`
	AuthorNickname    string                     `json:"authorNickname"`
	VotingMessageURL  string                     `json:"votingMessageUrl"`
	Description       string                     `json:"description"`
	Financial         bool                       `json:"financial"`
	TotalAmount       float64                    `json:"totalAmount,omitempty"`
	ThresholdNegative int                        `json:"thresholdNegative"`
	ThresholdPositive int                        `json:"thresholdPositive"`
	Outcome           string                     `json:"outcome"`
	SubmittedAt       string                     `json:"submittedAt"`
	ClosedAt          string                     `json:"closedAt"`
	Voters            []historyVoterResponse     `json:"voters"`
	Recipients        []historyRecipientResponse `json:"recipients,omitempty"`
}

// List returns resolved proposals, newest first. Supports ?outcome=,
// ?author= and ?page=/?limit= filters.
func (h History) List(c *gin.Context) {
	page, limit := pagination(c)

	q := h.db.Model(&types.ProposalHistory{}).
		Preload("Voters").
		Preload("Recipients").
		Order("closed_at DESC")
	if author := c.Query("author"); author != "" {
		q = q.Where("author_id = ?", author)
	}
	if outcome := c.Query("outcome"); outcome != "" {
		o, ok := parseOutcome(outcome)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"err": "unknown outcome"})
			return
		}
		q = q.Where("outcome = ?", o)
	}

	var rows []types.ProposalHistory
	if err := q.Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]historyResponse, 0, len(rows))
	for _, row := range rows {
		item := historyResponse{
			ID:                row.ID,
			AuthorID:          row.AuthorID,
			AuthorNickname:    row.AuthorNickname,
			VotingMessageURL:  row.VotingMessageURL,
			Description:       h.sanitizer.Sanitize(row.Description),
			Financial:         row.Financial,
			TotalAmount:       row.TotalAmount,
			ThresholdNegative: row.ThresholdNegative,
			ThresholdPositive: row.ThresholdPositive,
			Outcome:           row.Outcome.String(),
			SubmittedAt:       row.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
			ClosedAt:          row.ClosedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Voters:            make([]historyVoterResponse, 0, len(row.Voters)),
		}
		for _, v := range row.Voters {
			item.Voters = append(item.Voters, historyVoterResponse{
				UserID:   v.UserID,
				Nickname: v.Nickname,
				Value:    v.Value.String(),
			})
		}
		for _, r := range row.Recipients {
			item.Recipients = append(item.Recipients, historyRecipientResponse{
				RecipientIDs:       strings.Split(r.RecipientIDs, types.RecipientSeparator),
				RecipientNicknames: strings.Split(r.RecipientNicknames, types.RecipientSeparator),
				Amount:             r.Amount,
			})
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "items": out})
}

func parseOutcome(s string) (types.Outcome, bool) {
	for _, o := range []types.Outcome{
		types.OutcomeAccepted,
		types.OutcomeCancelledByProposer,
		types.OutcomeCancelledByNegativeThreshold,
		types.OutcomeCancelledByInsufficientSupport,
	} {
		if o.String() == s {
			return o, true
		}
	}
	return 0, false
}

func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > maxPageSize {
		limit = 50
	}
	return page, limit
}
