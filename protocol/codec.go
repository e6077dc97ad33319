package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"nchat/models"
)

// ErrUnknownCommand marks a frame whose tag has no registered codec.
// Callers drop the frame and keep the connection: unknown tags are
// forward-compatible noise, not a protocol violation.
var ErrUnknownCommand = errors.New("protocol: unknown command tag")

type delegateCodec struct {
	encode func(Command, *RecordBuilder)
	decode func(*RecordReader) (Command, error)
}

var delegates = map[CommandType]delegateCodec{
	TypeCreateAccount:              {encodeCreateAccount, decodeCreateAccount},
	TypeChangePassword:             {encodeChangePassword, decodeChangePassword},
	TypeLogin:                      {encodeLogin, decodeLogin},
	TypeLogout:                     {encodeIDOnly, decodeIDOnly(func(id int32) Command { return &Logout{Id: id} })},
	TypeExit:                       {encodeIDOnly, decodeIDOnly(func(id int32) Command { return &Exit{Id: id} })},
	TypeAddContactInvite:           {encodeAddContactInvite, decodeAddContactInvite},
	TypeAddContactResponse:         {encodeAddContactResponse, decodeAddContactResponse},
	TypeRemoveContact:              {encodeRemoveContact, decodeRemoveContact},
	TypeGetContactOfUsers:          {encodeGetContactOfUsers, decodeGetContactOfUsers},
	TypeGetContactOfUsersResponse:  {encodeContactOfUsersResponse, decodeContactOfUsersResponse},
	TypeChatMessage:                {encodeChatMessage, decodeChatMessage},
	TypeGetPendingMessages:         {encodeIDOnly, decodeIDOnly(func(id int32) Command { return &GetPendingMessages{Id: id} })},
	TypeGetPendingMessagesResponse: {encodePendingMessagesResponse, decodePendingMessagesResponse},
	TypeShutdownServer:             {encodeIDOnly, decodeIDOnly(func(id int32) Command { return &ShutdownServer{Id: id} })},
	TypeOk:                         {encodeIDOnly, decodeIDOnly(func(id int32) Command { return &Ok{Id: id} })},
	TypeError:                      {encodeError, decodeError},
}

// EncodeCommand serializes cmd into one complete frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	codec, ok := delegates[cmd.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type())
	}
	rec := NewRecord()
	codec.encode(cmd, rec)
	payload, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(frameHeaderLen + len(payload))
	if err := WriteFrame(&buf, Frame{Tag: byte(cmd.Type()), Record: payload}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteCommand encodes cmd and writes the frame to w.
func WriteCommand(w io.Writer, cmd Command) error {
	buf, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// DecodeCommand reconstructs the command carried by a frame.
func DecodeCommand(f Frame) (Command, error) {
	codec, ok := delegates[CommandType(f.Tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, f.Tag)
	}
	rec, err := ParseRecord(f.Record)
	if err != nil {
		return nil, err
	}
	return codec.decode(rec)
}

// ReadCommand reads one frame from r and decodes it.
func ReadCommand(r io.Reader, maxRecordBytes int) (Command, error) {
	f, err := ReadFrame(r, maxRecordBytes)
	if err != nil {
		return nil, err
	}
	return DecodeCommand(f)
}

func addName(rec *RecordBuilder, name models.UserName) {
	if name == "" {
		rec.AddOptString(nil)
		return
	}
	s := string(name)
	rec.AddString(s)
}

func readName(rec *RecordReader) (models.UserName, error) {
	s, err := rec.OptString()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return models.NewUserName(*s)
}

func encodeCreateAccount(cmd Command, rec *RecordBuilder) {
	c := cmd.(*CreateAccount)
	rec.AddInt32(c.Id).AddString(string(c.Name)).AddString(c.Password)
}

func decodeCreateAccount(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	s, err := rec.String()
	if err != nil {
		return nil, err
	}
	name, err := models.NewUserName(s)
	if err != nil {
		return nil, err
	}
	pass, err := rec.String()
	if err != nil {
		return nil, err
	}
	return &CreateAccount{Id: id, Name: name, Password: pass}, nil
}

func encodeChangePassword(cmd Command, rec *RecordBuilder) {
	c := cmd.(*ChangePassword)
	rec.AddInt32(c.Id).AddString(string(c.Name)).AddString(c.OldPassword).AddString(c.NewPassword)
}

func decodeChangePassword(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	s, err := rec.String()
	if err != nil {
		return nil, err
	}
	name, err := models.NewUserName(s)
	if err != nil {
		return nil, err
	}
	oldPass, err := rec.String()
	if err != nil {
		return nil, err
	}
	newPass, err := rec.String()
	if err != nil {
		return nil, err
	}
	return &ChangePassword{Id: id, Name: name, OldPassword: oldPass, NewPassword: newPass}, nil
}

func encodeLogin(cmd Command, rec *RecordBuilder) {
	c := cmd.(*Login)
	rec.AddInt32(c.Id).AddString(string(c.Name)).AddString(c.Password)
}

func decodeLogin(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	s, err := rec.String()
	if err != nil {
		return nil, err
	}
	name, err := models.NewUserName(s)
	if err != nil {
		return nil, err
	}
	pass, err := rec.String()
	if err != nil {
		return nil, err
	}
	return &Login{Id: id, Name: name, Password: pass}, nil
}

// encodeIDOnly covers the variants whose record is just the id.
func encodeIDOnly(cmd Command, rec *RecordBuilder) {
	rec.AddInt32(cmd.ID())
}

func decodeIDOnly(build func(id int32) Command) func(*RecordReader) (Command, error) {
	return func(rec *RecordReader) (Command, error) {
		id, err := rec.Int32()
		if err != nil {
			return nil, err
		}
		return build(id), nil
	}
}

func encodeAddContactInvite(cmd Command, rec *RecordBuilder) {
	c := cmd.(*AddContactInvite)
	rec.AddInt32(c.Id)
	addName(rec, c.UserName)
	addName(rec, c.ContactName)
}

func decodeAddContactInvite(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	userName, err := readName(rec)
	if err != nil {
		return nil, err
	}
	contactName, err := readName(rec)
	if err != nil {
		return nil, err
	}
	return &AddContactInvite{Id: id, UserName: userName, ContactName: contactName}, nil
}

func encodeAddContactResponse(cmd Command, rec *RecordBuilder) {
	c := cmd.(*AddContactResponse)
	rec.AddInt32(c.Id)
	addName(rec, c.UserName)
	addName(rec, c.ContactName)
	rec.AddBool(c.Accepted)
}

func decodeAddContactResponse(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	userName, err := readName(rec)
	if err != nil {
		return nil, err
	}
	contactName, err := readName(rec)
	if err != nil {
		return nil, err
	}
	accepted, err := rec.Bool()
	if err != nil {
		return nil, err
	}
	return &AddContactResponse{Id: id, UserName: userName, ContactName: contactName, Accepted: accepted}, nil
}

func encodeRemoveContact(cmd Command, rec *RecordBuilder) {
	c := cmd.(*RemoveContact)
	rec.AddInt32(c.Id)
	addName(rec, c.ContactName)
}

func decodeRemoveContact(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	contactName, err := readName(rec)
	if err != nil {
		return nil, err
	}
	return &RemoveContact{Id: id, ContactName: contactName}, nil
}

func encodeGetContactOfUsers(cmd Command, rec *RecordBuilder) {
	c := cmd.(*GetContactOfUsers)
	rec.AddInt32(c.Id).AddByte(byte(c.State))
}

func decodeGetContactOfUsers(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	b, err := rec.Byte()
	if err != nil {
		return nil, err
	}
	state, err := models.ParseContactState(b)
	if err != nil {
		return nil, err
	}
	return &GetContactOfUsers{Id: id, State: state}, nil
}

func encodeContactOfUsersResponse(cmd Command, rec *RecordBuilder) {
	c := cmd.(*GetContactOfUsersResponse)
	names := make([]string, len(c.RequesterNames))
	for i, n := range c.RequesterNames {
		// names must never contain a comma, see joinList
		names[i] = string(n)
	}
	rec.AddInt32(c.Id).AddString(joinList(names))
}

func decodeContactOfUsersResponse(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	joined, err := rec.String()
	if err != nil {
		return nil, err
	}
	var names []models.UserName
	for _, s := range splitList(joined) {
		name, err := models.NewUserName(s)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return &GetContactOfUsersResponse{Id: id, RequesterNames: names}, nil
}

func encodeChatMessage(cmd Command, rec *RecordBuilder) {
	c := cmd.(*ChatMessage)
	rec.AddInt32(c.Id)
	addName(rec, c.Message.Sender)
	addName(rec, c.Message.Recipient)
	rec.AddString(c.Message.Text)
}

func decodeChatMessage(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	sender, err := readName(rec)
	if err != nil {
		return nil, err
	}
	recipient, err := readName(rec)
	if err != nil {
		return nil, err
	}
	text, err := rec.String()
	if err != nil {
		return nil, err
	}
	msg, err := models.NewMessageInfo(sender, recipient, text)
	if err != nil {
		return nil, err
	}
	return &ChatMessage{Id: id, Message: msg}, nil
}

func encodePendingMessagesResponse(cmd Command, rec *RecordBuilder) {
	c := cmd.(*GetPendingMessagesResponse)
	senders := make([]string, len(c.Messages))
	texts := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		senders[i] = string(m.Sender)
		// texts may contain commas or newlines, so they travel Base64-encoded
		texts[i] = base64.StdEncoding.EncodeToString([]byte(m.Text))
	}
	rec.AddInt32(c.Id).AddString(joinList(senders)).AddString(joinList(texts))
}

func decodePendingMessagesResponse(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	joinedSenders, err := rec.String()
	if err != nil {
		return nil, err
	}
	joinedTexts, err := rec.String()
	if err != nil {
		return nil, err
	}
	senders := splitList(joinedSenders)
	texts := splitList(joinedTexts)
	if len(senders) != len(texts) {
		return nil, fmt.Errorf("%w: %d senders for %d messages", ErrBadField, len(senders), len(texts))
	}
	var msgs []models.MessageInfo
	for i := range senders {
		sender, err := models.NewUserName(senders[i])
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(texts[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadField, err)
		}
		msg, err := models.NewMessageInfo(sender, "", string(raw))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return &GetPendingMessagesResponse{Id: id, Messages: msgs}, nil
}

func encodeError(cmd Command, rec *RecordBuilder) {
	c := cmd.(*Error)
	rec.AddInt32(c.Id).AddByte(byte(c.Code))
	if c.Description == "" {
		rec.AddOptString(nil)
	} else {
		rec.AddString(c.Description)
	}
}

func decodeError(rec *RecordReader) (Command, error) {
	id, err := rec.Int32()
	if err != nil {
		return nil, err
	}
	code, err := rec.Byte()
	if err != nil {
		return nil, err
	}
	if ErrorCode(code) > CodeBadRequest {
		return nil, fmt.Errorf("%w: bad error code %d", ErrBadField, code)
	}
	desc, err := rec.String()
	if err != nil {
		return nil, err
	}
	return &Error{Id: id, Code: ErrorCode(code), Description: desc}, nil
}

// joinList serializes list-valued response fields. Elements must not
// contain a comma; callers Base64-encode payloads that might.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
