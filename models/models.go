package models

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxUserNameLen is the maximum number of characters in a user name.
	MaxUserNameLen = 20
	// MaxMessageLen is the maximum number of characters in a chat message.
	MaxMessageLen = 1024
)

var (
	ErrNameTooLong    = errors.New("models: user name too long")
	ErrMessageTooLong = errors.New("models: message text too long")
)

// UserName is a public user identity. The zero value means "no name"
// (e.g. the implicit current user on a chat message).
type UserName string

// NewUserName validates and returns a user name.
func NewUserName(s string) (UserName, error) {
	if utf8.RuneCountInString(s) > MaxUserNameLen {
		return "", fmt.Errorf("%w: %q", ErrNameTooLong, s)
	}
	return UserName(s), nil
}

// UserID is an opaque store-assigned identity. Never exposed to other users.
type UserID int64

// ContactState is the state of one contact-list entry.
type ContactState byte

const (
	StatePending ContactState = iota // invited, not yet accepted or declined
	StateContact                     // mutual contact
	StateBlocked                     // reserved, unused by current protocol logic
)

func (s ContactState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateContact:
		return "CONTACT"
	case StateBlocked:
		return "BLOCKED"
	}
	return fmt.Sprintf("ContactState(%d)", byte(s))
}

// ParseContactState maps a wire byte back to a state.
func ParseContactState(b byte) (ContactState, error) {
	s := ContactState(b)
	if s > StateBlocked {
		return 0, fmt.Errorf("models: bad contact state: %d", b)
	}
	return s, nil
}

// ContactInfo is one entry of a user's contact list.
type ContactInfo struct {
	UserID UserID
	Name   UserName
	State  ContactState
}

// UserInfo is a stored user together with its contact list.
type UserInfo struct {
	ID       UserID
	Name     UserName
	Contacts []ContactInfo
}

// FindContact returns the entry for name, in any state, or nil.
func (u *UserInfo) FindContact(name UserName) *ContactInfo {
	for i := range u.Contacts {
		if u.Contacts[i].Name == name {
			return &u.Contacts[i]
		}
	}
	return nil
}

// WithoutContact returns the contact list with any entry for name removed.
func (u *UserInfo) WithoutContact(name UserName) []ContactInfo {
	out := make([]ContactInfo, 0, len(u.Contacts))
	for _, c := range u.Contacts {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}

// MessageInfo is one chat message. An empty Sender means "the current
// user"; same convention for Recipient.
type MessageInfo struct {
	Sender    UserName
	Recipient UserName
	Text      string
}

// NewMessageInfo validates and returns a message.
func NewMessageInfo(sender, recipient UserName, text string) (MessageInfo, error) {
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return MessageInfo{}, ErrMessageTooLong
	}
	return MessageInfo{Sender: sender, Recipient: recipient, Text: text}, nil
}
