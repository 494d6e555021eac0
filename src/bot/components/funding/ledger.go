package funding

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/daohub-labs/consensusbot/src/metrics"
	"github.com/daohub-labs/consensusbot/src/types"
)

// ValidationError is a bad tip request: reported to the user, nothing
// recorded.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ErrInsufficientBalance rejects a debit that would push the balance below
// zero.
var ErrInsufficientBalance = errors.New("insufficient free funding balance")

// Ledger manages season-limited personal allowances ("tips"). Debits from the
// same user are serialized so a balance can never go negative.
type Ledger struct {
	db          *gorm.DB
	seasonLimit float64
	maxTip      float64

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func NewLedger(db *gorm.DB, seasonLimit, maxTip float64) *Ledger {
	return &Ledger{
		db:          db,
		seasonLimit: seasonLimit,
		maxTip:      maxTip,
		users:       make(map[string]*sync.Mutex),
	}
}

// userLock returns the per-user mutex, creating it on first use.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.users[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.users[userID] = m
	return m
}

// Balance returns the user's balance row, creating it seeded to the season
// limit on first use.
func (l *Ledger) Balance(userID, nickname string) (*types.FreeFundingBalance, error) {
	var bal types.FreeFundingBalance
	err := l.db.Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bal = types.FreeFundingBalance{
			UserID:   userID,
			Nickname: nickname,
			Balance:  l.seasonLimit,
		}
		if err := l.db.Create(&bal).Error; err != nil {
			return nil, fmt.Errorf("create balance: %w", err)
		}
		log.Printf("Seeded free funding balance for user %s", userID)
		return &bal, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return &bal, nil
}

// Debit validates and applies a tip: amount is debited once per recipient,
// and the decrement plus the ledger entry commit as one unit. Returns the
// created transaction.
func (l *Ledger) Debit(authorID, authorNickname string, recipientIDs, recipientNicknames []string, amount float64, description, messageURL string) (*types.FreeFundingTransaction, error) {
	if len(recipientIDs) == 0 {
		return nil, &ValidationError{Reason: "no recipients given"}
	}
	if amount <= 0 {
		return nil, &ValidationError{Reason: "amount must be positive"}
	}
	if l.maxTip > 0 && amount > l.maxTip {
		return nil, &ValidationError{Reason: fmt.Sprintf("amount exceeds the per-tip limit of %g", l.maxTip)}
	}
	for _, id := range recipientIDs {
		if id == authorID {
			return nil, &ValidationError{Reason: "you can't send funds to yourself"}
		}
	}

	total := amount * float64(len(recipientIDs))

	// Serialize debits per user; the transaction below re-reads the balance
	// under this lock so concurrent tips can't both pass the sufficiency
	// check.
	lock := l.userLock(authorID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := l.Balance(authorID, authorNickname); err != nil {
		return nil, err
	}

	txn := types.FreeFundingTransaction{
		Ref:                uuid.NewString(),
		AuthorID:           authorID,
		AuthorNickname:     authorNickname,
		RecipientIDs:       strings.Join(recipientIDs, types.RecipientSeparator),
		RecipientNicknames: strings.Join(recipientNicknames, types.RecipientSeparator),
		TotalAmount:        total,
		Description:        description,
		MessageURL:         messageURL,
		CreatedAt:          time.Now().UTC(),
	}

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var bal types.FreeFundingBalance
		if err := tx.Where("user_id = ?", authorID).First(&bal).Error; err != nil {
			return fmt.Errorf("load balance: %w", err)
		}
		if bal.Balance < total {
			return ErrInsufficientBalance
		}
		bal.Balance -= total
		bal.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&bal).Error; err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if err := tx.Create(&txn).Error; err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TipsIssued.Inc()
	log.Printf("Free funding sent: author=%s total=%g recipients=%d ref=%s", authorID, total, len(recipientIDs), txn.Ref)
	return &txn, nil
}

// ResetAll reseeds every balance to the season limit. Administrative
// operation, run at season rollover.
func (l *Ledger) ResetAll() (int64, error) {
	res := l.db.Model(&types.FreeFundingBalance{}).
		Where("1 = 1").
		Updates(map[string]interface{}{"balance": l.seasonLimit, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return 0, fmt.Errorf("reset balances: %w", res.Error)
	}
	log.Printf("Reset %d free funding balances to %g", res.RowsAffected, l.seasonLimit)
	return res.RowsAffected, nil
}
