// Package discordtest provides a scripted, in-memory implementation of the
// chat service for tests.
package discordtest

import (
	"fmt"
	"sync"

	"github.com/daohub-labs/consensusbot/src/discord"
)

type reactionKey struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Fake implements discord.Service. All mutators record their calls; reaction
// enumeration is scripted via SetReactions. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	BotID   string
	nextID  int
	Roles   map[string][]string // userID -> role ids
	Nicks   map[string]string
	Errs    map[string]error // method name -> injected error
	ErrOnce map[string]error

	Sent             []discord.Message
	Edits            map[string]string // messageID -> latest content
	DMs              map[string][]string
	AddedReactions   []string // "channel/message/emoji"
	RemovedReactions []string // "channel/message/emoji/user"
	ClearedReactions []string // "channel/message/emoji"

	reactions map[reactionKey][]discord.User
	messages  map[string]discord.Message
}

func New() *Fake {
	return &Fake{
		BotID:     "bot",
		Roles:     make(map[string][]string),
		Nicks:     make(map[string]string),
		Errs:      make(map[string]error),
		ErrOnce:   make(map[string]error),
		Edits:     make(map[string]string),
		DMs:       make(map[string][]string),
		reactions: make(map[reactionKey][]discord.User),
		messages:  make(map[string]discord.Message),
	}
}

func (f *Fake) fail(method string) error {
	if err, ok := f.ErrOnce[method]; ok {
		delete(f.ErrOnce, method)
		return err
	}
	return f.Errs[method]
}

// SetReactions scripts the reactor list returned for a message/emoji pair.
func (f *Fake) SetReactions(channelID, messageID, emoji string, users ...discord.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions[reactionKey{channelID, messageID, emoji}] = users
}

// PutMessage seeds a fetchable message.
func (f *Fake) PutMessage(channelID, messageID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[messageID] = discord.Message{ID: messageID, ChannelID: channelID, Content: content}
}

// GrantRole marks a user as holding a role.
func (f *Fake) GrantRole(userID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roles[userID] = append(f.Roles[userID], roleID)
}

func (f *Fake) SendMessage(channelID, content string) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SendMessage"); err != nil {
		return nil, err
	}
	f.nextID++
	m := discord.Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID, Content: content}
	f.Sent = append(f.Sent, m)
	f.messages[m.ID] = m
	return &m, nil
}

func (f *Fake) EditMessage(channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EditMessage"); err != nil {
		return err
	}
	f.Edits[messageID] = content
	return nil
}

func (f *Fake) FetchMessage(channelID, messageID string) (*discord.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FetchMessage"); err != nil {
		return nil, err
	}
	if m, ok := f.messages[messageID]; ok {
		return &m, nil
	}
	return &discord.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *Fake) AddReaction(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AddReaction"); err != nil {
		return err
	}
	f.AddedReactions = append(f.AddedReactions, channelID+"/"+messageID+"/"+emoji)
	return nil
}

func (f *Fake) RemoveReaction(channelID, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveReaction"); err != nil {
		return err
	}
	f.RemovedReactions = append(f.RemovedReactions, channelID+"/"+messageID+"/"+emoji+"/"+userID)
	return nil
}

func (f *Fake) RemoveAllReactions(channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RemoveAllReactions"); err != nil {
		return err
	}
	f.ClearedReactions = append(f.ClearedReactions, channelID+"/"+messageID+"/"+emoji)
	return nil
}

func (f *Fake) ReactionUsers(channelID, messageID, emoji string) ([]discord.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ReactionUsers"); err != nil {
		return nil, err
	}
	return f.reactions[reactionKey{channelID, messageID, emoji}], nil
}

func (f *Fake) HasRole(userID, roleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.Roles[userID] {
		if r == roleID {
			return true
		}
	}
	return false
}

func (f *Fake) Nickname(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.Nicks[userID]; ok {
		return n
	}
	return userID
}

func (f *Fake) SendDM(userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SendDM"); err != nil {
		return err
	}
	f.DMs[userID] = append(f.DMs[userID], content)
	return nil
}

func (f *Fake) MessageURL(channelID, messageID string) string {
	return "https://discord.com/channels/guild/" + channelID + "/" + messageID
}

func (f *Fake) BotUserID() string { return f.BotID }
