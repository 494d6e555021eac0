package types

import "time"

// Vote is the value a member attaches to a proposal.
type Vote int

const (
	VoteAgainst Vote = 0
	VoteFor     Vote = 1
)

func (v Vote) String() string {
	if v == VoteFor {
		return "for"
	}
	return "against"
}

// Outcome is the terminal result of a proposal. Exactly one outcome is ever
// applied per proposal.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeCancelledByProposer
	OutcomeCancelledByNegativeThreshold
	OutcomeCancelledByInsufficientSupport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeCancelledByProposer:
		return "cancelled_by_proposer"
	case OutcomeCancelledByNegativeThreshold:
		return "cancelled_by_negative_threshold"
	case OutcomeCancelledByInsufficientSupport:
		return "cancelled_by_insufficient_support"
	}
	return "unknown"
}

// Anonymity controls when voter identities become publicly visible.
const (
	AnonymityOpen          uint8 = 0
	AnonymityRevealAtClose uint8 = 1
)

// ThresholdDisabled is the sentinel stored when a proposal has no minimum
// support requirement.
const ThresholdDisabled = -1

// RecipientSeparator joins id/nickname arrays stored in a single column.
const RecipientSeparator = ","

type Proposal struct {
	ID                   uint64 `gorm:"primaryKey"`
	MessageID            string `gorm:"size:32;not null"` // original proposer message
	ChannelID            string `gorm:"size:32;not null"`
	AuthorID             string `gorm:"size:32;not null;index"`
	VotingMessageID      string `gorm:"size:32;not null;uniqueIndex"`
	BotResponseMessageID string `gorm:"size:32"`
	Description          string `gorm:"type:text"`
	Financial            bool
	TotalAmount          float64
	ThresholdNegative    int   `gorm:"not null"`
	ThresholdPositive    int   `gorm:"not null;default:-1"`
	Anonymity            uint8 `gorm:"not null;default:0"`
	SubmittedAt          time.Time
	ClosesAt             time.Time

	Voters            []Voter            `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE"`
	FinanceRecipients []FinanceRecipient `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE"`
}

// Voter is one live vote. At most one row per (proposal, user).
type Voter struct {
	ID         uint64 `gorm:"primaryKey"`
	ProposalID uint64 `gorm:"index;not null"`
	UserID     string `gorm:"size:32;not null"`
	Nickname   string `gorm:"size:128"`
	Value      Vote   `gorm:"not null"`
	CreatedAt  time.Time
}

// FinanceRecipient is one group of recipients sharing an amount. Amounts of
// all groups sum to the proposal total.
type FinanceRecipient struct {
	ID                 uint64 `gorm:"primaryKey"`
	ProposalID         uint64 `gorm:"index;not null"`
	RecipientIDs       string `gorm:"type:text;not null"`
	RecipientNicknames string `gorm:"type:text"`
	Amount             float64
}

// ProposalHistory is the immutable audit record of a resolved proposal. It is
// created exactly once by the archiver and never mutated. Its lifetime is
// independent from the live Proposal row.
type ProposalHistory struct {
	ID                uint64 `gorm:"primaryKey"`
	ProposalID        uint64 `gorm:"index"` // id of the (now deleted) live row
	MessageID         string `gorm:"size:32"`
	ChannelID         string `gorm:"size:32"`
	AuthorID          string `gorm:"size:32"`
	AuthorNickname    string `gorm:"size:128"`
	VotingMessageID   string `gorm:"size:32;index"`
	VotingMessageURL  string `gorm:"size:255"`
	Description       string `gorm:"type:text"`
	Financial         bool
	TotalAmount       float64
	ThresholdNegative int
	ThresholdPositive int
	Anonymity         uint8
	Outcome           Outcome `gorm:"not null"`
	SubmittedAt       time.Time
	ClosedAt          time.Time

	Voters     []HistoryVoter     `gorm:"foreignKey:HistoryID;constraint:OnDelete:CASCADE"`
	Recipients []HistoryRecipient `gorm:"foreignKey:HistoryID;constraint:OnDelete:CASCADE"`
}

type HistoryVoter struct {
	ID        uint64 `gorm:"primaryKey"`
	HistoryID uint64 `gorm:"index;not null"`
	UserID    string `gorm:"size:32;not null"`
	Nickname  string `gorm:"size:128"`
	Value     Vote   `gorm:"not null"`
	VotedAt   time.Time
}

type HistoryRecipient struct {
	ID                 uint64 `gorm:"primaryKey"`
	HistoryID          uint64 `gorm:"index;not null"`
	RecipientIDs       string `gorm:"type:text"`
	RecipientNicknames string `gorm:"type:text"`
	Amount             float64
}

// FreeFundingBalance is a member's remaining tip allowance for the current
// season. Created lazily, seeded to the season limit.
type FreeFundingBalance struct {
	ID        uint64 `gorm:"primaryKey"`
	UserID    string `gorm:"size:32;not null;uniqueIndex"`
	Nickname  string `gorm:"size:128"`
	Balance   float64
	UpdatedAt time.Time
}

// FreeFundingTransaction is an append-only ledger entry for an issued tip.
type FreeFundingTransaction struct {
	ID                 uint64 `gorm:"primaryKey"`
	Ref                string `gorm:"size:36;uniqueIndex"`
	AuthorID           string `gorm:"size:32;not null;index"`
	AuthorNickname     string `gorm:"size:128"`
	RecipientIDs       string `gorm:"type:text;not null"`
	RecipientNicknames string `gorm:"type:text"`
	TotalAmount        float64
	Description        string `gorm:"type:text"`
	MessageURL         string `gorm:"size:255"`
	CreatedAt          time.Time
}

// Setting is a name/value pair loaded at startup; values override built-in
// defaults and are themselves overridable by environment variables.
type Setting struct {
	ID    uint16 `gorm:"primaryKey"`
	Name  string `gorm:"size:64;uniqueIndex"`
	Value string `gorm:"size:255"`
}
