package db

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"nchat/models"
)

var (
	ErrNoRows             = errors.New("db: no rows found")
	ErrAlreadyExists      = errors.New("db: user already exists")
	ErrInvalidCredentials = errors.New("db: invalid user or password")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			owner_id INTEGER NOT NULL REFERENCES users(id),
			contact_id INTEGER NOT NULL REFERENCES users(id),
			state INTEGER NOT NULL,
			PRIMARY KEY (owner_id, contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			recipient_id INTEGER NOT NULL REFERENCES users(id),
			text TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_contact ON contacts(contact_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// CreateUser stores a new account. The password is hashed at rest.
func (db *DB) CreateUser(name models.UserName, password string) (models.UserID, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	res, err := db.conn.Exec(
		"INSERT INTO users (name, password) VALUES (?, ?)",
		string(name), string(hashed),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return models.UserID(id), nil
}

// Authenticate verifies the password and returns the stored user with
// contacts. An unknown name and a wrong password both report
// ErrInvalidCredentials.
func (db *DB) Authenticate(name models.UserName, password string) (*models.UserInfo, error) {
	var id models.UserID
	var hashed string
	err := db.conn.QueryRow(
		"SELECT id, password FROM users WHERE name = ?", string(name),
	).Scan(&id, &hashed)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	contacts, err := db.getContacts(id)
	if err != nil {
		return nil, err
	}
	return &models.UserInfo{ID: id, Name: name, Contacts: contacts}, nil
}

// UpdatePassword replaces the password after verifying the old one.
func (db *DB) UpdatePassword(name models.UserName, oldPassword, newPassword string) error {
	if _, err := db.Authenticate(name, oldPassword); err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"UPDATE users SET password = ? WHERE name = ?",
		string(hashed), string(name),
	)
	return err
}

// GetUserByName loads a user and its contact list.
func (db *DB) GetUserByName(name models.UserName) (*models.UserInfo, error) {
	var id models.UserID
	err := db.conn.QueryRow(
		"SELECT id FROM users WHERE name = ?", string(name),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	contacts, err := db.getContacts(id)
	if err != nil {
		return nil, err
	}
	return &models.UserInfo{ID: id, Name: name, Contacts: contacts}, nil
}

func (db *DB) getContacts(ownerID models.UserID) ([]models.ContactInfo, error) {
	rows, err := db.conn.Query(`
		SELECT c.contact_id, u.name, c.state
		FROM contacts c JOIN users u ON u.id = c.contact_id
		WHERE c.owner_id = ?`, int64(ownerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.ContactInfo
	for rows.Next() {
		var c models.ContactInfo
		var state byte
		if err := rows.Scan(&c.UserID, &c.Name, &state); err != nil {
			return nil, err
		}
		if c.State, err = models.ParseContactState(state); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// PersistContacts replaces the owner's contact list in one transaction.
func (db *DB) PersistContacts(ownerID models.UserID, contacts []models.ContactInfo) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM contacts WHERE owner_id = ?", int64(ownerID)); err != nil {
		return err
	}
	for _, c := range contacts {
		_, err := tx.Exec(
			"INSERT INTO contacts (owner_id, contact_id, state) VALUES (?, ?, ?)",
			int64(ownerID), int64(c.UserID), byte(c.State),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetContactOfUsers returns the names of users that list contactID in
// the given state. This is the reverse direction of getContacts.
func (db *DB) GetContactOfUsers(contactID models.UserID, state models.ContactState) ([]models.UserName, error) {
	rows, err := db.conn.Query(`
		SELECT u.name
		FROM contacts c JOIN users u ON u.id = c.owner_id
		WHERE c.contact_id = ? AND c.state = ?`, int64(contactID), byte(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []models.UserName
	for rows.Next() {
		var name models.UserName
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

// InsertMessage queues a message for an offline recipient.
func (db *DB) InsertMessage(senderID, recipientID models.UserID, text string) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (sender_id, recipient_id, text) VALUES (?, ?, ?)",
		int64(senderID), int64(recipientID), text,
	)
	return err
}

// GetMessages returns the recipient's queued messages in arrival order,
// sender names filled in. The rows stay in place until DeleteMessagesFor.
func (db *DB) GetMessages(recipientID models.UserID) ([]models.MessageInfo, error) {
	rows, err := db.conn.Query(`
		SELECT u.name, m.text
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.recipient_id = ?
		ORDER BY m.id ASC`, int64(recipientID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.MessageInfo
	for rows.Next() {
		var m models.MessageInfo
		if err := rows.Scan(&m.Sender, &m.Text); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// DeleteMessagesFor drops all queued messages for the recipient.
func (db *DB) DeleteMessagesFor(recipientID models.UserID) error {
	_, err := db.conn.Exec("DELETE FROM messages WHERE recipient_id = ?", int64(recipientID))
	return err
}
