package webserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/types"
)

type Funding struct {
	db        *gorm.DB
	sanitizer *bluemonday.Policy
}

func NewFunding(db *gorm.DB) Funding {
	return Funding{db: db, sanitizer: bluemonday.StrictPolicy()}
}

type transactionResponse struct {
	Ref                string   `json:"ref"`
	AuthorID           string   `json:"authorId"`
	AuthorNickname     string   `json:"authorNickname"`
	RecipientIDs       []string `json:"recipientIds"`
	RecipientNicknames []string `json:"recipientNicknames"`
	TotalAmount        float64  `json:"totalAmount"`
	Description        string   `json:"description"`
	MessageURL         string   `json:"messageUrl"`
	CreatedAt          string   `json:"createdAt"`
}

// Transactions returns the tip ledger, newest first. Supports ?author= and
// ?page=/?limit= filters.
func (f Funding) Transactions(c *gin.Context) {
	page, limit := pagination(c)

	q := f.db.Model(&types.FreeFundingTransaction{}).Order("created_at DESC")
	if author := c.Query("author"); author != "" {
		q = q.Where("author_id = ?", author)
	}

	var rows []types.FreeFundingTransaction
	if err := q.Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	out := make([]transactionResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, transactionResponse{
			Ref:                row.Ref,
			AuthorID:           row.AuthorID,
			AuthorNickname:     row.AuthorNickname,
			RecipientIDs:       strings.Split(row.RecipientIDs, types.RecipientSeparator),
			RecipientNicknames: strings.Split(row.RecipientNicknames, types.RecipientSeparator),
			TotalAmount:        row.TotalAmount,
			Description:        f.sanitizer.Sanitize(row.Description),
			MessageURL:         row.MessageURL,
			CreatedAt:          row.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "items": out})
}

// Balances returns every member's remaining season allowance.
func (f Funding) Balances(c *gin.Context) {
	var rows []types.FreeFundingBalance
	if err := f.db.Order("balance ASC").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}

	type balanceResponse struct {
		UserID   string  `json:"userId"`
		Nickname string  `json:"nickname"`
		Balance  float64 `json:"balance"`
	}
	out := make([]balanceResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, balanceResponse{UserID: row.UserID, Nickname: row.Nickname, Balance: row.Balance})
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}
