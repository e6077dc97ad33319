package server

import (
	"errors"

	"nchat/db"
	"nchat/models"
	"nchat/protocol"
)

func (c *Conn) sendOk(id int32) {
	c.send(&protocol.Ok{Id: id})
}

func (c *Conn) sendError(id int32, code protocol.ErrorCode, desc string) {
	c.send(&protocol.Error{Id: id, Code: code, Description: desc})
}

func (c *Conn) sendInternalError(id int32, err error) {
	c.log.Error().Err(err).Msg("store operation failed")
	c.sendError(id, protocol.CodeInternalError, "internal error")
}

func (s *Server) handleCreateAccount(c *Conn, cmd *protocol.CreateAccount) {
	s.withStore(func() {
		_, err := s.db.CreateUser(cmd.Name, cmd.Password)
		switch {
		case errors.Is(err, db.ErrAlreadyExists):
			c.sendError(cmd.Id, protocol.CodeUserAlreadyExists, "user already exists")
		case err != nil:
			c.sendInternalError(cmd.Id, err)
		default:
			c.log.Info().Str("user", string(cmd.Name)).Msg("account created")
			c.sendOk(cmd.Id)
		}
	})
}

func (s *Server) handleChangePassword(c *Conn, user *models.UserInfo, cmd *protocol.ChangePassword) {
	if cmd.Name != user.Name {
		c.sendError(cmd.Id, protocol.CodeBadRequest, "name does not match logged in user")
		return
	}
	s.withStore(func() {
		err := s.db.UpdatePassword(cmd.Name, cmd.OldPassword, cmd.NewPassword)
		switch {
		case errors.Is(err, db.ErrInvalidCredentials):
			c.sendError(cmd.Id, protocol.CodeInvalidUserOrPass, "invalid user or password")
		case err != nil:
			c.sendInternalError(cmd.Id, err)
		default:
			c.sendOk(cmd.Id)
		}
	})
}

func (s *Server) handleLogin(c *Conn, cmd *protocol.Login) {
	// a repeated login on an authenticated connection is a no-op
	if c.currentUser() != nil {
		c.sendOk(cmd.Id)
		return
	}
	s.withStore(func() {
		user, err := s.db.Authenticate(cmd.Name, cmd.Password)
		switch {
		case errors.Is(err, db.ErrInvalidCredentials):
			c.sendError(cmd.Id, protocol.CodeInvalidUserOrPass, "invalid user or password")
		case err != nil:
			c.sendInternalError(cmd.Id, err)
		default:
			c.setUser(user)
			s.registry.Bind(user.Name, c)
			c.log.Info().Str("user", string(user.Name)).Msg("logged in")
			c.sendOk(cmd.Id)
		}
	})
}

func (s *Server) handleLogout(c *Conn, user *models.UserInfo, cmd *protocol.Logout) {
	s.registry.Unbind(user.Name)
	c.setUser(nil)
	c.log.Info().Str("user", string(user.Name)).Msg("logged out")
	c.sendOk(cmd.Id)
}

func (s *Server) handleExit(c *Conn, user *models.UserInfo) {
	if user != nil {
		s.registry.Unbind(user.Name)
		c.setUser(nil)
	}
	// fire-and-forget: no reply, just close
	c.close()
}

func (s *Server) handleAddContactInvite(c *Conn, user *models.UserInfo, cmd *protocol.AddContactInvite) {
	if cmd.ContactName == "" {
		c.sendError(cmd.Id, protocol.CodeBadRequest, "contact name is required")
		return
	}
	s.withStore(func() {
		target, err := s.db.GetUserByName(cmd.ContactName)
		switch {
		case errors.Is(err, db.ErrNoRows):
			c.sendError(cmd.Id, protocol.CodeBadRequest, "no such user")
			return
		case err != nil:
			c.sendInternalError(cmd.Id, err)
			return
		}

		if user.FindContact(target.Name) == nil {
			updated := *user
			updated.Contacts = append(user.WithoutContact(target.Name), models.ContactInfo{
				UserID: target.ID,
				Name:   target.Name,
				State:  models.StatePending,
			})
			if err := s.db.PersistContacts(user.ID, updated.Contacts); err != nil {
				c.sendInternalError(cmd.Id, err)
				return
			}
			c.setUser(&updated)
		}
		c.sendOk(cmd.Id)

		if peer, ok := s.registry.Lookup(target.Name); ok {
			peer.send(&protocol.AddContactInvite{
				Id:       s.notifIDs.Next(),
				UserName: user.Name,
			})
		}
	})
}

func (s *Server) handleAddContactResponse(c *Conn, user *models.UserInfo, cmd *protocol.AddContactResponse) {
	if cmd.UserName == "" {
		c.sendError(cmd.Id, protocol.CodeBadRequest, "user name is required")
		return
	}
	s.withStore(func() {
		requester, err := s.db.GetUserByName(cmd.UserName)
		switch {
		case errors.Is(err, db.ErrNoRows):
			c.sendError(cmd.Id, protocol.CodeBadRequest, "no such user")
			return
		case err != nil:
			c.sendInternalError(cmd.Id, err)
			return
		}

		entry := requester.FindContact(user.Name)
		if entry == nil || entry.State != models.StatePending {
			c.sendError(cmd.Id, protocol.CodeBadRequest, "no pending invitation")
			return
		}

		if cmd.Accepted {
			entry.State = models.StateContact
			if err := s.db.PersistContacts(requester.ID, requester.Contacts); err != nil {
				c.sendInternalError(cmd.Id, err)
				return
			}
			updated := *user
			updated.Contacts = append(user.WithoutContact(requester.Name), models.ContactInfo{
				UserID: requester.ID,
				Name:   requester.Name,
				State:  models.StateContact,
			})
			if err := s.db.PersistContacts(user.ID, updated.Contacts); err != nil {
				c.sendInternalError(cmd.Id, err)
				return
			}
			c.setUser(&updated)
		} else {
			requester.Contacts = requester.WithoutContact(user.Name)
			if err := s.db.PersistContacts(requester.ID, requester.Contacts); err != nil {
				c.sendInternalError(cmd.Id, err)
				return
			}
		}
		c.sendOk(cmd.Id)

		// the forwarded notice keeps the inbound id; the requester field
		// travels null, the invitee goes in ContactName
		if peer, ok := s.registry.Lookup(requester.Name); ok {
			peer.send(&protocol.AddContactResponse{
				Id:          cmd.Id,
				ContactName: user.Name,
				Accepted:    cmd.Accepted,
			})
		}
	})
}

func (s *Server) handleRemoveContact(c *Conn, user *models.UserInfo, cmd *protocol.RemoveContact) {
	s.withStore(func() {
		updated := *user
		updated.Contacts = user.WithoutContact(cmd.ContactName)
		if err := s.db.PersistContacts(user.ID, updated.Contacts); err != nil {
			c.sendInternalError(cmd.Id, err)
			return
		}
		c.setUser(&updated)
		c.sendOk(cmd.Id)
	})
}

func (s *Server) handleGetContactOfUsers(c *Conn, user *models.UserInfo, cmd *protocol.GetContactOfUsers) {
	s.withStore(func() {
		// whatever state the query names, only pending entries are ever
		// reported; other states answer with an empty list
		var names []models.UserName
		if cmd.State == models.StatePending {
			var err error
			names, err = s.db.GetContactOfUsers(user.ID, cmd.State)
			if err != nil {
				c.sendInternalError(cmd.Id, err)
				return
			}
		}
		c.send(&protocol.GetContactOfUsersResponse{Id: cmd.Id, RequesterNames: names})
	})
}

func (s *Server) handleChatMessage(c *Conn, user *models.UserInfo, cmd *protocol.ChatMessage) {
	if cmd.Message.Recipient == "" {
		c.sendError(cmd.Id, protocol.CodeBadRequest, "recipient is required")
		return
	}
	s.withStore(func() {
		recipient, err := s.db.GetUserByName(cmd.Message.Recipient)
		switch {
		case errors.Is(err, db.ErrNoRows):
			c.sendError(cmd.Id, protocol.CodeBadRequest, "no such user")
			return
		case err != nil:
			c.sendInternalError(cmd.Id, err)
			return
		}

		if peer, ok := s.registry.Lookup(recipient.Name); ok {
			// online delivery bypasses the store entirely
			peer.send(&protocol.ChatMessage{
				Id: s.notifIDs.Next(),
				Message: models.MessageInfo{
					Sender: user.Name,
					Text:   cmd.Message.Text,
				},
			})
			c.sendOk(cmd.Id)
			return
		}

		if err := s.db.InsertMessage(user.ID, recipient.ID, cmd.Message.Text); err != nil {
			c.sendInternalError(cmd.Id, err)
			return
		}
		c.sendOk(cmd.Id)
	})
}

func (s *Server) handleGetPendingMessages(c *Conn, user *models.UserInfo, cmd *protocol.GetPendingMessages) {
	s.withStore(func() {
		messages, err := s.db.GetMessages(user.ID)
		if err != nil {
			c.sendInternalError(cmd.Id, err)
			return
		}
		// read then clear, two statements; a crash in between redelivers
		if err := s.db.DeleteMessagesFor(user.ID); err != nil {
			c.sendInternalError(cmd.Id, err)
			return
		}
		c.send(&protocol.GetPendingMessagesResponse{Id: cmd.Id, Messages: messages})
	})
}

// handleShutdownServer sends no reply; the shutdown itself is the answer.
func (s *Server) handleShutdownServer(c *Conn, cmd *protocol.ShutdownServer) {
	user := c.currentUser()
	c.log.Info().Str("user", string(user.Name)).Msg("shutdown requested")
	go s.Shutdown()
}
