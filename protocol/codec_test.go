package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nchat/models"
)

func roundTrip(t *testing.T, cmd Command) Command {
	t.Helper()
	buf, err := EncodeCommand(cmd)
	require.NoError(t, err)

	f, err := ReadFrame(bytes.NewReader(buf), 0)
	require.NoError(t, err)
	assert.Equal(t, byte(cmd.Type()), f.Tag)

	out, err := DecodeCommand(f)
	require.NoError(t, err)
	return out
}

func TestCommandRoundTrips(t *testing.T) {
	msg := func(sender, recipient models.UserName, text string) models.MessageInfo {
		m, err := models.NewMessageInfo(sender, recipient, text)
		require.NoError(t, err)
		return m
	}

	cmds := []Command{
		&CreateAccount{Id: 1, Name: "alice", Password: "secret"},
		&ChangePassword{Id: 2, Name: "alice", OldPassword: "secret", NewPassword: "s3cret"},
		&Login{Id: 3, Name: "bob", Password: "mypass"},
		&Logout{Id: 4},
		&Exit{Id: 5},
		&AddContactInvite{Id: 6, UserName: "alice", ContactName: "bob"},
		&AddContactInvite{Id: 7, UserName: "alice"},
		&AddContactResponse{Id: 8, UserName: "alice", ContactName: "bob", Accepted: true},
		&AddContactResponse{Id: 9, UserName: "alice", Accepted: false},
		&RemoveContact{Id: 10, ContactName: "bob"},
		&GetContactOfUsers{Id: 11, State: models.StatePending},
		&GetContactOfUsersResponse{Id: 12, RequesterNames: []models.UserName{"alice", "carol"}},
		&GetContactOfUsersResponse{Id: 13},
		&ChatMessage{Id: 14, Message: msg("", "bob", "hi there")},
		&ChatMessage{Id: 15, Message: msg("alice", "", "hi back")},
		&GetPendingMessages{Id: 16},
		&GetPendingMessagesResponse{Id: 17, Messages: []models.MessageInfo{
			msg("alice", "", "first, with a comma"),
			msg("carol", "", "second\nwith a newline"),
		}},
		&GetPendingMessagesResponse{Id: 18},
		&ShutdownServer{Id: 19},
		&Ok{Id: 20},
		&Error{Id: 21, Code: CodeInvalidUserOrPass, Description: "invalid user or password"},
		&Error{Id: 22, Code: CodeTimeout},
	}

	for _, cmd := range cmds {
		out := roundTrip(t, cmd)
		assert.Equal(t, cmd, out, "%s id=%d", cmd.Type(), cmd.ID())
	}
}

func TestReadCommandFromStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCommand(&buf, &Login{Id: 7, Name: "bob", Password: "mypass"}))
	require.NoError(t, WriteCommand(&buf, &Ok{Id: 7}))

	cmd, err := ReadCommand(&buf, 0)
	require.NoError(t, err)
	login, ok := cmd.(*Login)
	require.True(t, ok)
	assert.Equal(t, models.UserName("bob"), login.Name)

	cmd, err = ReadCommand(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeOk, cmd.Type())
	assert.Equal(t, int32(7), cmd.ID())
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := DecodeCommand(Frame{Tag: 42})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDecodeReservedTag(t *testing.T) {
	// tag 5 exists in the wire contract but has no codec
	_, err := DecodeCommand(Frame{Tag: 5})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDecodeLayoutMismatch(t *testing.T) {
	payload, err := NewRecord().AddString("no id first").Marshal()
	require.NoError(t, err)

	_, err = DecodeCommand(Frame{Tag: byte(TypeLogin), Record: payload})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestDecodeBadErrorCode(t *testing.T) {
	payload, err := NewRecord().AddInt32(1).AddByte(99).AddOptString(nil).Marshal()
	require.NoError(t, err)

	_, err = DecodeCommand(Frame{Tag: byte(TypeError), Record: payload})
	assert.ErrorIs(t, err, ErrBadField)
}

func TestDecodePendingMessagesLengthMismatch(t *testing.T) {
	payload, err := NewRecord().AddInt32(1).AddString("alice,bob").AddString("aGk=").Marshal()
	require.NoError(t, err)

	_, err = DecodeCommand(Frame{Tag: byte(TypeGetPendingMessagesResponse), Record: payload})
	assert.ErrorIs(t, err, ErrBadField)
}

func TestEmptyNameEncodesAsNull(t *testing.T) {
	buf, err := EncodeCommand(&AddContactInvite{Id: 1, UserName: "alice"})
	require.NoError(t, err)

	f, err := ReadFrame(bytes.NewReader(buf), 0)
	require.NoError(t, err)
	rec, err := ParseRecord(f.Record)
	require.NoError(t, err)

	_, err = rec.Int32()
	require.NoError(t, err)
	s, err := rec.OptString()
	require.NoError(t, err)
	require.NotNil(t, s)
	s, err = rec.OptString()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestIDSourceSequence(t *testing.T) {
	src := NewIDSource()
	assert.Equal(t, int32(1), src.Next())
	assert.Equal(t, int32(2), src.Next())
	assert.Equal(t, int32(3), src.Next())
}
