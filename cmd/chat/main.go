package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nchat/client"
	"nchat/models"
	"nchat/protocol"
)

const usage = `commands:
  create <name> <password>          create an account
  login <name> <password>           log in
  passwd <name> <old> <new>         change password
  logout                            log out, keep the connection
  msg <name> <text...>              send a chat message
  invite <name>                     invite a contact
  respond <name> accept|decline     answer an invitation
  remove <name>                     remove a contact
  invites                           list pending invitations
  contacts                          list confirmed contacts
  pending                           fetch queued offline messages
  shutdown                          stop the server (no reply)
  exit                              quit`

func main() {
	addr := flag.String("addr", "127.0.0.1:3215", "server address")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger().Level(zerolog.WarnLevel)

	notif := client.Notifications{
		OnContactInvite: func(inv *protocol.AddContactInvite) {
			fmt.Printf("* %s wants to add you as a contact (respond %s accept|decline)\n",
				inv.UserName, inv.UserName)
		},
		OnContactResponse: func(resp *protocol.AddContactResponse) {
			verdict := "declined"
			if resp.Accepted {
				verdict = "accepted"
			}
			fmt.Printf("* %s %s your invitation\n", resp.ContactName, verdict)
		},
		OnChatMessage: func(msg *protocol.ChatMessage) {
			fmt.Printf("<%s> %s\n", msg.Message.Sender, msg.Message.Text)
		},
	}

	c, err := client.Dial(client.Config{Addr: *addr, DefaultTimeout: *timeout}, notif, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("connected to %s\n%s\n", *addr, usage)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !run(c, line) {
			break
		}
	}
}

// run executes one console command. Returns false to quit.
func run(c *client.Client, line string) bool {
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		fmt.Println(usage)

	case "create":
		if len(args) != 2 {
			fmt.Println("usage: create <name> <password>")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.CreateAccount{Id: c.NextID(), Name: name, Password: args[1]})

	case "login":
		if len(args) != 2 {
			fmt.Println("usage: login <name> <password>")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.Login{Id: c.NextID(), Name: name, Password: args[1]})

	case "passwd":
		if len(args) != 3 {
			fmt.Println("usage: passwd <name> <old> <new>")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.ChangePassword{
			Id: c.NextID(), Name: name, OldPassword: args[1], NewPassword: args[2],
		})

	case "logout":
		call(c, &protocol.Logout{Id: c.NextID()})

	case "msg":
		if len(args) < 2 {
			fmt.Println("usage: msg <name> <text...>")
			return true
		}
		recipient, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		msg, err := models.NewMessageInfo("", recipient, strings.Join(args[1:], " "))
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.ChatMessage{Id: c.NextID(), Message: msg})

	case "invite":
		if len(args) != 1 {
			fmt.Println("usage: invite <name>")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.AddContactInvite{Id: c.NextID(), ContactName: name})

	case "respond":
		if len(args) != 2 || (args[1] != "accept" && args[1] != "decline") {
			fmt.Println("usage: respond <name> accept|decline")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.AddContactResponse{
			Id: c.NextID(), UserName: name, Accepted: args[1] == "accept",
		})

	case "remove":
		if len(args) != 1 {
			fmt.Println("usage: remove <name>")
			return true
		}
		name, err := models.NewUserName(args[0])
		if err != nil {
			fmt.Println(err)
			return true
		}
		call(c, &protocol.RemoveContact{Id: c.NextID(), ContactName: name})

	case "invites":
		call(c, &protocol.GetContactOfUsers{Id: c.NextID(), State: models.StatePending})

	case "contacts":
		call(c, &protocol.GetContactOfUsers{Id: c.NextID(), State: models.StateContact})

	case "pending":
		call(c, &protocol.GetPendingMessages{Id: c.NextID()})

	case "shutdown":
		// the server answers with silence and a closed socket
		if err := c.Send(&protocol.ShutdownServer{Id: c.NextID()}); err != nil {
			fmt.Println(err)
		}

	case "exit", "quit":
		c.Send(&protocol.Exit{Id: c.NextID()})
		return false

	default:
		fmt.Printf("unknown command %q, try help\n", cmd)
	}
	return true
}

// call issues one request and prints the outcome synchronously.
func call(c *client.Client, cmd protocol.Command) {
	done := make(chan struct{})
	err := c.Call(cmd, client.Callback{
		OnResponse: func(resp protocol.Command) {
			printResponse(resp)
			close(done)
		},
		OnTimeout: func(id int32) {
			fmt.Println("request timed out")
			close(done)
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	<-done
}

func printResponse(resp protocol.Command) {
	switch resp := resp.(type) {
	case *protocol.Ok:
		fmt.Println("ok")
	case *protocol.Error:
		fmt.Printf("error: %s (%s)\n", resp.Description, resp.Code)
	case *protocol.GetContactOfUsersResponse:
		if len(resp.RequesterNames) == 0 {
			fmt.Println("nobody")
			return
		}
		for _, name := range resp.RequesterNames {
			fmt.Println(name)
		}
	case *protocol.GetPendingMessagesResponse:
		if len(resp.Messages) == 0 {
			fmt.Println("no pending messages")
			return
		}
		for _, msg := range resp.Messages {
			fmt.Printf("<%s> %s\n", msg.Sender, msg.Text)
		}
	default:
		fmt.Printf("unexpected response %s\n", resp.Type())
	}
}
