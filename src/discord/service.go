package discord

// Message is the subset of a chat message the bot cares about.
type Message struct {
	ID        string
	ChannelID string
	Content   string
}

// User identifies a reactor returned by reaction enumeration.
type User struct {
	ID       string
	Username string
}

// Service is the chat-platform surface consumed by the bot. The production
// implementation wraps a discordgo session; tests use a scripted fake.
type Service interface {
	// SendMessage posts content to a channel and returns the created message.
	SendMessage(channelID, content string) (*Message, error)
	// EditMessage replaces the content of an existing message.
	EditMessage(channelID, messageID, content string) error
	// FetchMessage retrieves a message by channel and id.
	FetchMessage(channelID, messageID string) (*Message, error)

	// AddReaction reacts to a message as the bot.
	AddReaction(channelID, messageID, emoji string) error
	// RemoveReaction retracts a specific user's reaction.
	RemoveReaction(channelID, messageID, emoji, userID string) error
	// RemoveAllReactions clears every instance of the given emoji.
	RemoveAllReactions(channelID, messageID, emoji string) error
	// ReactionUsers enumerates users currently holding the given reaction.
	ReactionUsers(channelID, messageID, emoji string) ([]User, error)

	// HasRole reports whether the guild member holds the role.
	HasRole(userID, roleID string) bool
	// Nickname resolves a display name for the user, falling back to the id.
	Nickname(userID string) string
	// SendDM delivers a private message to the user.
	SendDM(userID, content string) error

	// MessageURL returns a permalink to the message.
	MessageURL(channelID, messageID string) string
	// BotUserID is the bot's own account id.
	BotUserID() string
}
