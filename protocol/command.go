package protocol

import (
	"fmt"
	"sync/atomic"

	"nchat/models"
)

// CommandType tags a command variant on the wire. Values are stable.
type CommandType byte

const (
	TypeCreateAccount CommandType = iota
	TypeChangePassword
	TypeLogin
	TypeLogout
	TypeExit
	typeReserved // tag 5 exists in the wire contract but is never sent
	TypeAddContactInvite
	TypeAddContactResponse
	TypeRemoveContact
	TypeGetContactOfUsers
	TypeGetContactOfUsersResponse
	TypeChatMessage
	TypeGetPendingMessages
	TypeGetPendingMessagesResponse
	TypeShutdownServer
	TypeOk
	TypeError
)

func (t CommandType) String() string {
	switch t {
	case TypeCreateAccount:
		return "CreateAccount"
	case TypeChangePassword:
		return "ChangePassword"
	case TypeLogin:
		return "Login"
	case TypeLogout:
		return "Logout"
	case TypeExit:
		return "Exit"
	case TypeAddContactInvite:
		return "AddContactInvite"
	case TypeAddContactResponse:
		return "AddContactResponse"
	case TypeRemoveContact:
		return "RemoveContact"
	case TypeGetContactOfUsers:
		return "GetContactOfUsers"
	case TypeGetContactOfUsersResponse:
		return "GetContactOfUsersResponse"
	case TypeChatMessage:
		return "ChatMessage"
	case TypeGetPendingMessages:
		return "GetPendingMessages"
	case TypeGetPendingMessagesResponse:
		return "GetPendingMessagesResponse"
	case TypeShutdownServer:
		return "ShutdownServer"
	case TypeOk:
		return "Ok"
	case TypeError:
		return "Error"
	}
	return fmt.Sprintf("CommandType(%d)", byte(t))
}

// ErrorCode identifies an application-level failure on the wire.
type ErrorCode byte

const (
	CodeUserAlreadyExists ErrorCode = iota
	CodeNotLoggedIn
	CodeInvalidUserOrPass
	CodeBadGateway
	CodeInternalError
	CodeTimeout
	CodeBadRequest
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUserAlreadyExists:
		return "USER_ALREADY_EXISTS"
	case CodeNotLoggedIn:
		return "NOT_LOGGED_IN"
	case CodeInvalidUserOrPass:
		return "INVALID_USER_OR_PASS"
	case CodeBadGateway:
		return "BAD_GATEWAY"
	case CodeInternalError:
		return "INTERNAL_ERROR"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeBadRequest:
		return "BAD_REQUEST"
	}
	return fmt.Sprintf("ErrorCode(%d)", byte(c))
}

// Command is one protocol message. Every variant carries a correlation id
// assigned by the issuing side; ids are unique per connection lifetime on
// that side, not globally.
type Command interface {
	Type() CommandType
	ID() int32
}

// IDSource hands out correlation ids. Each client connection and the
// server notification path hold their own source.
type IDSource struct {
	n atomic.Int32
}

// NewIDSource returns a source whose first id is 1.
func NewIDSource() *IDSource {
	return &IDSource{}
}

// Next returns the next id.
func (s *IDSource) Next() int32 {
	return s.n.Add(1)
}

// CreateAccount requests a new account.
type CreateAccount struct {
	Id       int32
	Name     models.UserName
	Password string
}

func (c *CreateAccount) Type() CommandType { return TypeCreateAccount }
func (c *CreateAccount) ID() int32         { return c.Id }

// ChangePassword replaces an account's secret.
type ChangePassword struct {
	Id          int32
	Name        models.UserName
	OldPassword string
	NewPassword string
}

func (c *ChangePassword) Type() CommandType { return TypeChangePassword }
func (c *ChangePassword) ID() int32         { return c.Id }

// Login authenticates the connection.
type Login struct {
	Id       int32
	Name     models.UserName
	Password string
}

func (c *Login) Type() CommandType { return TypeLogin }
func (c *Login) ID() int32         { return c.Id }

// Logout unbinds the connection's user; the connection stays open.
type Logout struct {
	Id int32
}

func (c *Logout) Type() CommandType { return TypeLogout }
func (c *Logout) ID() int32         { return c.Id }

// Exit unbinds and closes the connection. Fire-and-forget: no reply.
type Exit struct {
	Id int32
}

func (c *Exit) Type() CommandType { return TypeExit }
func (c *Exit) ID() int32         { return c.Id }

// AddContactInvite asks to add ContactName as a contact. As a server
// notification, UserName carries the requester and ContactName is empty.
type AddContactInvite struct {
	Id          int32
	UserName    models.UserName
	ContactName models.UserName
}

func (c *AddContactInvite) Type() CommandType { return TypeAddContactInvite }
func (c *AddContactInvite) ID() int32         { return c.Id }

// AddContactResponse accepts or declines an invitation. UserName is the
// original requester; as a forwarded notice, ContactName carries the
// invitee instead.
type AddContactResponse struct {
	Id          int32
	UserName    models.UserName
	ContactName models.UserName
	Accepted    bool
}

func (c *AddContactResponse) Type() CommandType { return TypeAddContactResponse }
func (c *AddContactResponse) ID() int32         { return c.Id }

// RemoveContact drops ContactName from the caller's contact list.
type RemoveContact struct {
	Id          int32
	ContactName models.UserName
}

func (c *RemoveContact) Type() CommandType { return TypeRemoveContact }
func (c *RemoveContact) ID() int32         { return c.Id }

// GetContactOfUsers queries who lists the caller as a contact in State.
type GetContactOfUsers struct {
	Id    int32
	State models.ContactState
}

func (c *GetContactOfUsers) Type() CommandType { return TypeGetContactOfUsers }
func (c *GetContactOfUsers) ID() int32         { return c.Id }

// GetContactOfUsersResponse lists requester names.
type GetContactOfUsersResponse struct {
	Id             int32
	RequesterNames []models.UserName
}

func (c *GetContactOfUsersResponse) Type() CommandType { return TypeGetContactOfUsersResponse }
func (c *GetContactOfUsersResponse) ID() int32         { return c.Id }

// ChatMessage carries one instant message.
type ChatMessage struct {
	Id      int32
	Message models.MessageInfo
}

func (c *ChatMessage) Type() CommandType { return TypeChatMessage }
func (c *ChatMessage) ID() int32         { return c.Id }

// GetPendingMessages fetches and clears the caller's queued messages.
type GetPendingMessages struct {
	Id int32
}

func (c *GetPendingMessages) Type() CommandType { return TypeGetPendingMessages }
func (c *GetPendingMessages) ID() int32         { return c.Id }

// GetPendingMessagesResponse returns queued messages, senders filled in.
type GetPendingMessagesResponse struct {
	Id       int32
	Messages []models.MessageInfo
}

func (c *GetPendingMessagesResponse) Type() CommandType { return TypeGetPendingMessagesResponse }
func (c *GetPendingMessagesResponse) ID() int32         { return c.Id }

// ShutdownServer requests orderly server shutdown.
type ShutdownServer struct {
	Id int32
}

func (c *ShutdownServer) Type() CommandType { return TypeShutdownServer }
func (c *ShutdownServer) ID() int32         { return c.Id }

// Ok acknowledges the request with the same id.
type Ok struct {
	Id int32
}

func (c *Ok) Type() CommandType { return TypeOk }
func (c *Ok) ID() int32         { return c.Id }

// Error rejects the request with the same id.
type Error struct {
	Id          int32
	Code        ErrorCode
	Description string
}

func (c *Error) Type() CommandType { return TypeError }
func (c *Error) ID() int32         { return c.Id }
