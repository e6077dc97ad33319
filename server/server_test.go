package server

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nchat/client"
	"nchat/db"
	"nchat/models"
	"nchat/protocol"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "test-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	database, err := db.New(tmpfile.Name())
	require.NoError(t, err)

	srv := New(database, Config{
		Addr:          "127.0.0.1:0",
		ShutdownGrace: 100 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, srv.Listen())
	go srv.Serve()

	t.Cleanup(func() {
		srv.Shutdown()
		database.Close()
	})
	return srv
}

func dialTest(t *testing.T, srv *Server, notif client.Notifications) *client.Client {
	t.Helper()
	c, err := client.Dial(client.Config{
		Addr:           srv.Addr().String(),
		DefaultTimeout: 2 * time.Second,
	}, notif, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// call issues one request and waits for its response.
func call(t *testing.T, c *client.Client, cmd protocol.Command) protocol.Command {
	t.Helper()
	responses := make(chan protocol.Command, 1)
	err := c.Call(cmd, client.Callback{
		OnResponse: func(resp protocol.Command) { responses <- resp },
		OnTimeout:  func(int32) { close(responses) },
	})
	require.NoError(t, err)

	resp, ok := <-responses
	require.True(t, ok, "request %s id=%d timed out", cmd.Type(), cmd.ID())
	return resp
}

func mustOk(t *testing.T, c *client.Client, cmd protocol.Command) {
	t.Helper()
	resp := call(t, c, cmd)
	require.Equal(t, protocol.TypeOk, resp.Type(), "got %#v", resp)
	require.Equal(t, cmd.ID(), resp.ID())
}

func mustError(t *testing.T, c *client.Client, cmd protocol.Command, code protocol.ErrorCode) {
	t.Helper()
	resp := call(t, c, cmd)
	errResp, ok := resp.(*protocol.Error)
	require.True(t, ok, "got %#v", resp)
	assert.Equal(t, code, errResp.Code)
	assert.Equal(t, cmd.ID(), errResp.ID())
}

func login(t *testing.T, c *client.Client, name models.UserName, password string) {
	t.Helper()
	mustOk(t, c, &protocol.Login{Id: c.NextID(), Name: name, Password: password})
}

func createAndLogin(t *testing.T, srv *Server, name models.UserName, password string, notif client.Notifications) *client.Client {
	t.Helper()
	c := dialTest(t, srv, notif)
	mustOk(t, c, &protocol.CreateAccount{Id: c.NextID(), Name: name, Password: password})
	login(t, c, name, password)
	return c
}

func TestCreateAccountAndLogin(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTest(t, srv, client.Notifications{})

	mustOk(t, c, &protocol.CreateAccount{Id: c.NextID(), Name: "bob", Password: "mypass"})
	mustError(t, c, &protocol.CreateAccount{Id: c.NextID(), Name: "bob", Password: "other"},
		protocol.CodeUserAlreadyExists)

	mustError(t, c, &protocol.Login{Id: c.NextID(), Name: "bob", Password: "wrong"},
		protocol.CodeInvalidUserOrPass)
	login(t, c, "bob", "mypass")

	// repeated login is a no-op
	mustOk(t, c, &protocol.Login{Id: c.NextID(), Name: "bob", Password: "whatever"})
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTest(t, srv, client.Notifications{})

	mustError(t, c, &protocol.GetPendingMessages{Id: c.NextID()}, protocol.CodeNotLoggedIn)
	mustError(t, c, &protocol.RemoveContact{Id: c.NextID(), ContactName: "bob"}, protocol.CodeNotLoggedIn)
	mustError(t, c, &protocol.ShutdownServer{Id: c.NextID()}, protocol.CodeNotLoggedIn)
}

func TestLogoutGatesRequests(t *testing.T) {
	srv := setupTestServer(t)
	c := createAndLogin(t, srv, "bob", "mypass", client.Notifications{})

	mustOk(t, c, &protocol.Logout{Id: c.NextID()})
	mustError(t, c, &protocol.GetPendingMessages{Id: c.NextID()}, protocol.CodeNotLoggedIn)

	// the connection survives logout
	login(t, c, "bob", "mypass")
	resp := call(t, c, &protocol.GetPendingMessages{Id: c.NextID()})
	assert.Equal(t, protocol.TypeGetPendingMessagesResponse, resp.Type())
}

func TestChangePassword(t *testing.T) {
	srv := setupTestServer(t)
	c := createAndLogin(t, srv, "bob", "mypass", client.Notifications{})

	mustError(t, c, &protocol.ChangePassword{
		Id: c.NextID(), Name: "bob", OldPassword: "wrong", NewPassword: "next",
	}, protocol.CodeInvalidUserOrPass)

	mustOk(t, c, &protocol.ChangePassword{
		Id: c.NextID(), Name: "bob", OldPassword: "mypass", NewPassword: "next",
	})

	c2 := dialTest(t, srv, client.Notifications{})
	mustError(t, c2, &protocol.Login{Id: c2.NextID(), Name: "bob", Password: "mypass"},
		protocol.CodeInvalidUserOrPass)
	login(t, c2, "bob", "next")
}

func TestContactHandshake(t *testing.T) {
	srv := setupTestServer(t)

	bobInvites := make(chan *protocol.AddContactInvite, 1)
	bob := createAndLogin(t, srv, "bob", "mypass", client.Notifications{
		OnContactInvite: func(i *protocol.AddContactInvite) { bobInvites <- i },
	})

	aliceNotices := make(chan *protocol.AddContactResponse, 1)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{
		OnContactResponse: func(r *protocol.AddContactResponse) { aliceNotices <- r },
	})

	mustOk(t, alice, &protocol.AddContactInvite{
		Id: alice.NextID(), UserName: "alice", ContactName: "bob",
	})

	select {
	case inv := <-bobInvites:
		assert.Equal(t, models.UserName("alice"), inv.UserName)
	case <-time.After(2 * time.Second):
		t.Fatal("bob got no invite notification")
	}

	// bob sees alice's pending invitation
	resp := call(t, bob, &protocol.GetContactOfUsers{Id: bob.NextID(), State: models.StatePending})
	pending, ok := resp.(*protocol.GetContactOfUsersResponse)
	require.True(t, ok, "got %#v", resp)
	assert.Equal(t, []models.UserName{"alice"}, pending.RequesterNames)

	acceptID := bob.NextID()
	mustOk(t, bob, &protocol.AddContactResponse{
		Id: acceptID, UserName: "alice", ContactName: "bob", Accepted: true,
	})

	select {
	case notice := <-aliceNotices:
		assert.True(t, notice.Accepted)
		assert.Equal(t, models.UserName(""), notice.UserName)
		assert.Equal(t, models.UserName("bob"), notice.ContactName)
		assert.Equal(t, acceptID, notice.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("alice got no acceptance notice")
	}

	// the pending entry is gone
	resp = call(t, bob, &protocol.GetContactOfUsers{Id: bob.NextID(), State: models.StatePending})
	assert.Empty(t, resp.(*protocol.GetContactOfUsersResponse).RequesterNames)

	// the contact-of query only ever reports pending entries, so asking
	// for confirmed contacts answers empty even though the linkage exists
	resp = call(t, bob, &protocol.GetContactOfUsers{Id: bob.NextID(), State: models.StateContact})
	assert.Empty(t, resp.(*protocol.GetContactOfUsersResponse).RequesterNames)

	// the mutual linkage is in the store
	bobInfo, err := srv.db.GetUserByName("bob")
	require.NoError(t, err)
	entry := bobInfo.FindContact("alice")
	require.NotNil(t, entry)
	assert.Equal(t, models.StateContact, entry.State)

	aliceInfo, err := srv.db.GetUserByName("alice")
	require.NoError(t, err)
	entry = aliceInfo.FindContact("bob")
	require.NotNil(t, entry)
	assert.Equal(t, models.StateContact, entry.State)
}

func TestContactInviteDeclined(t *testing.T) {
	srv := setupTestServer(t)
	bob := createAndLogin(t, srv, "bob", "mypass", client.Notifications{})
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustOk(t, alice, &protocol.AddContactInvite{
		Id: alice.NextID(), UserName: "alice", ContactName: "bob",
	})
	mustOk(t, bob, &protocol.AddContactResponse{
		Id: bob.NextID(), UserName: "alice", ContactName: "bob", Accepted: false,
	})

	// the pending entry was removed, so a second response has nothing to act on
	mustError(t, bob, &protocol.AddContactResponse{
		Id: bob.NextID(), UserName: "alice", ContactName: "bob", Accepted: true,
	}, protocol.CodeBadRequest)
}

func TestInviteUnknownUser(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustError(t, alice, &protocol.AddContactInvite{
		Id: alice.NextID(), UserName: "alice", ContactName: "nobody",
	}, protocol.CodeBadRequest)
}

func TestRespondToUnknownRequester(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustError(t, alice, &protocol.AddContactResponse{
		Id: alice.NextID(), UserName: "nobody", Accepted: true,
	}, protocol.CodeBadRequest)
}

func TestMissingNamesRejected(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustError(t, alice, &protocol.AddContactInvite{Id: alice.NextID()},
		protocol.CodeBadRequest)
	mustError(t, alice, &protocol.AddContactResponse{Id: alice.NextID(), Accepted: true},
		protocol.CodeBadRequest)

	msg, err := models.NewMessageInfo("", "", "to whom it may concern")
	require.NoError(t, err)
	mustError(t, alice, &protocol.ChatMessage{Id: alice.NextID(), Message: msg},
		protocol.CodeBadRequest)
}

func TestRemoveContact(t *testing.T) {
	srv := setupTestServer(t)
	bob := createAndLogin(t, srv, "bob", "mypass", client.Notifications{})
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustOk(t, alice, &protocol.AddContactInvite{
		Id: alice.NextID(), UserName: "alice", ContactName: "bob",
	})
	mustOk(t, alice, &protocol.RemoveContact{Id: alice.NextID(), ContactName: "bob"})

	resp := call(t, bob, &protocol.GetContactOfUsers{Id: bob.NextID(), State: models.StatePending})
	assert.Empty(t, resp.(*protocol.GetContactOfUsersResponse).RequesterNames)
}

func TestOnlineChatDelivery(t *testing.T) {
	srv := setupTestServer(t)

	bobMessages := make(chan *protocol.ChatMessage, 1)
	createAndLogin(t, srv, "bob", "mypass", client.Notifications{
		OnChatMessage: func(m *protocol.ChatMessage) { bobMessages <- m },
	})
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	msg, err := models.NewMessageInfo("", "bob", "hello bob")
	require.NoError(t, err)
	mustOk(t, alice, &protocol.ChatMessage{Id: alice.NextID(), Message: msg})

	select {
	case m := <-bobMessages:
		assert.Equal(t, models.UserName("alice"), m.Message.Sender)
		assert.Equal(t, models.UserName(""), m.Message.Recipient)
		assert.Equal(t, "hello bob", m.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestOfflineMessageRoundTrip(t *testing.T) {
	srv := setupTestServer(t)

	bob := createAndLogin(t, srv, "bob", "mypass", client.Notifications{})
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	// take bob offline, then message him
	mustOk(t, bob, &protocol.Logout{Id: bob.NextID()})

	msg, err := models.NewMessageInfo("", "bob", "read this later, ok?")
	require.NoError(t, err)
	mustOk(t, alice, &protocol.ChatMessage{Id: alice.NextID(), Message: msg})

	login(t, bob, "bob", "mypass")
	resp := call(t, bob, &protocol.GetPendingMessages{Id: bob.NextID()})
	pendingResp, ok := resp.(*protocol.GetPendingMessagesResponse)
	require.True(t, ok, "got %#v", resp)
	require.Len(t, pendingResp.Messages, 1)
	assert.Equal(t, models.UserName("alice"), pendingResp.Messages[0].Sender)
	assert.Equal(t, "read this later, ok?", pendingResp.Messages[0].Text)

	// the fetch cleared the queue
	resp = call(t, bob, &protocol.GetPendingMessages{Id: bob.NextID()})
	assert.Empty(t, resp.(*protocol.GetPendingMessagesResponse).Messages)
}

func TestChatToUnknownUser(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	msg, err := models.NewMessageInfo("", "nobody", "anyone there?")
	require.NoError(t, err)
	mustError(t, alice, &protocol.ChatMessage{Id: alice.NextID(), Message: msg},
		protocol.CodeBadRequest)
}

func TestResponseCommandsRejected(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	mustError(t, alice, &protocol.Ok{Id: alice.NextID()}, protocol.CodeBadRequest)
	mustError(t, alice, &protocol.GetContactOfUsersResponse{Id: alice.NextID()},
		protocol.CodeBadRequest)
}

func TestLastLoginWins(t *testing.T) {
	srv := setupTestServer(t)

	firstMessages := make(chan *protocol.ChatMessage, 1)
	createAndLogin(t, srv, "bob", "mypass", client.Notifications{
		OnChatMessage: func(m *protocol.ChatMessage) { firstMessages <- m },
	})

	// a second login for the same name takes over routing
	secondMessages := make(chan *protocol.ChatMessage, 1)
	second := dialTest(t, srv, client.Notifications{
		OnChatMessage: func(m *protocol.ChatMessage) { secondMessages <- m },
	})
	login(t, second, "bob", "mypass")

	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})
	msg, err := models.NewMessageInfo("", "bob", "which one of you is real")
	require.NoError(t, err)
	mustOk(t, alice, &protocol.ChatMessage{Id: alice.NextID(), Message: msg})

	select {
	case <-secondMessages:
	case <-time.After(2 * time.Second):
		t.Fatal("newer connection got nothing")
	}
	assert.Empty(t, firstMessages)
}

func TestStats(t *testing.T) {
	srv := setupTestServer(t)
	createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	stats := srv.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, []models.UserName{"alice"}, stats.Users)
}

func TestShutdownServerCommand(t *testing.T) {
	srv := setupTestServer(t)
	alice := createAndLogin(t, srv, "alice", "secret", client.Notifications{})

	// fire-and-forget: no reply is defined for shutdown
	require.NoError(t, alice.Send(&protocol.ShutdownServer{Id: alice.NextID()}))

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not begin shutdown")
	}
}

func TestStoreWorkRunsOffReadGoroutine(t *testing.T) {
	srv := setupTestServer(t)

	release := make(chan struct{})
	finished := make(chan struct{})
	srv.withStore(func() {
		<-release
		close(finished)
	})

	// withStore returns before the task completes
	select {
	case <-finished:
		t.Fatal("task completed before release")
	default:
	}
	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}
