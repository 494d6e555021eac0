package discord

import (
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
)

// Session adapts a discordgo session to the Service interface.
type Session struct {
	dg      *discordgo.Session
	guildID string
}

func NewSession(dg *discordgo.Session, guildID string) *Session {
	return &Session{dg: dg, guildID: guildID}
}

func (s *Session) SendMessage(channelID, content string) (*Message, error) {
	m, err := s.dg.ChannelMessageSend(channelID, content)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}, nil
}

func (s *Session) EditMessage(channelID, messageID, content string) error {
	// Suppress embeds so links in result messages don't expand.
	flags := discordgo.MessageFlagsSuppressEmbeds
	_, err := s.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel: channelID,
		ID:      messageID,
		Content: &content,
		Flags:   flags,
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (s *Session) FetchMessage(channelID, messageID string) (*Message, error) {
	m, err := s.dg.ChannelMessage(channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	return &Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}, nil
}

func (s *Session) AddReaction(channelID, messageID, emoji string) error {
	return s.dg.MessageReactionAdd(channelID, messageID, emoji)
}

func (s *Session) RemoveReaction(channelID, messageID, emoji, userID string) error {
	return s.dg.MessageReactionRemove(channelID, messageID, emoji, userID)
}

func (s *Session) RemoveAllReactions(channelID, messageID, emoji string) error {
	return s.dg.MessageReactionsRemoveEmoji(channelID, messageID, emoji)
}

func (s *Session) ReactionUsers(channelID, messageID, emoji string) ([]User, error) {
	var users []User
	after := ""
	for {
		batch, err := s.dg.MessageReactions(channelID, messageID, emoji, 100, "", after)
		if err != nil {
			return nil, fmt.Errorf("enumerate reactions: %w", err)
		}
		for _, u := range batch {
			users = append(users, User{ID: u.ID, Username: u.Username})
		}
		if len(batch) < 100 {
			return users, nil
		}
		after = batch[len(batch)-1].ID
	}
}

func (s *Session) HasRole(userID, roleID string) bool {
	member, err := s.dg.GuildMember(s.guildID, userID)
	if err != nil {
		return false
	}
	for _, role := range member.Roles {
		if role == roleID {
			return true
		}
	}
	return false
}

func (s *Session) Nickname(userID string) string {
	member, err := s.dg.GuildMember(s.guildID, userID)
	if err == nil {
		if member.Nick != "" {
			return member.Nick
		}
		if member.User != nil {
			return member.User.Username
		}
	}
	user, err := s.dg.User(userID)
	if err != nil {
		log.Printf("Failed to resolve nickname for %s: %v", userID, err)
		return userID
	}
	return user.Username
}

func (s *Session) SendDM(userID, content string) error {
	ch, err := s.dg.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("create dm channel: %w", err)
	}
	_, err = s.dg.ChannelMessageSend(ch.ID, content)
	return err
}

func (s *Session) MessageURL(channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", s.guildID, channelID, messageID)
}

func (s *Session) BotUserID() string {
	if s.dg.State != nil && s.dg.State.User != nil {
		return s.dg.State.User.ID
	}
	return ""
}
