package webserver

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daohub-labs/consensusbot/src/bot/components/funding"
)

type Admin struct {
	ledger *funding.Ledger
}

func NewAdmin(ledger *funding.Ledger) Admin {
	return Admin{ledger: ledger}
}

// ResetBalances reseeds every free funding balance to the season limit.
// Run once per season rollover.
func (a Admin) ResetBalances(c *gin.Context) {
	log.Printf("Admin %v requested a season balance reset", c.GetString("sub"))

	n, err := a.ledger.ResetAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reset": n})
}
