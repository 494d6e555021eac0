package voting

import (
	"fmt"
	"strings"
	"time"

	"github.com/daohub-labs/consensusbot/src/types"
)

// Message texts sent by the bot. Kept together because they change often.

const (
	msgVotedIncorrectly = "Hey! Looks like you reacted to the wrong message - votes only count on the voting post. Here it is: %s"
	msgRecoveryInPause  = "The bot has just restarted and is catching up on missed votes. Please retry in a minute."
	msgAlreadyVoted     = "You have already voted %s on this proposal: %s"
	msgAuthorSelfVote   = "Sorry, you can't support your own proposal - that's what lazy consensus is about. Others will do it for you, or not."
	msgVotedFor         = "Your support for %s's proposal was counted. The voting closes %s: %s"
	msgVotedAgainst     = "Your objection to %s's proposal was counted. The voting closes %s: %s"

	msgProposerCancelled       = "%s has withdrawn their own proposal. Original message: %s"
	msgThresholdCancelled      = "Proposal cancelled due to opposition from %d members - %s. Original message: %s"
	msgNoSupportCancelled      = "Proposal cancelled - only %d member(s) supported it%s, but %d were required. Original message: %s"
	msgAcceptedFinancial       = "Accepted: %s requested by %s.\n%s%s\nOriginal message: %s"
	msgAcceptedGrantless       = "Accepted: %s's proposal.\n%s%s\nOriginal message: %s"
	msgSupportedBy             = "\nSupported by %s"
	msgProposerReplyAccepted   = "%s, your proposal was accepted! The grant has been applied."
	msgGrantlessReplyAccepted  = "%s, your proposal was accepted!"
	msgProposerReplyWithdrawn  = "%s, your proposal was cancelled as you requested."
	msgProposerReplyThreshold  = "Sorry %s, %d members objected to your proposal: %s. Take some time, tweak it, and try again."
	msgProposerReplyNoSupport  = "Sorry %s, your proposal didn't gather the required support before the deadline."
	msgGrantCommand            = "!grant %s %s %s voted via lazy consensus: %s"

	reactionAccepted  = "✅"
	reactionCancelled = "🚫"
	reactionHooray    = "🎉"
)

func mention(userID string) string {
	return "<@" + userID + ">"
}

func mentionList(voters []types.Voter) string {
	parts := make([]string, 0, len(voters))
	for _, v := range voters {
		parts = append(parts, mention(v.UserID))
	}
	return strings.Join(parts, ", ")
}

// countdown renders a human countdown until the close time; Discord renders
// <t:..:R> as a live relative timestamp.
func countdown(closesAt time.Time) string {
	return fmt.Sprintf("<t:%d:R>", closesAt.Unix())
}

func amountToPrint(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
