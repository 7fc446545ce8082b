package auth

import (
	"time"

	"github.com/maruel/minum/internal/database"
)

// User is a registered account.
type User struct {
	Index        int64
	Username     string
	PasswordHash string
	Created      time.Time
}

// GetIndex implements database.Record.
func (u *User) GetIndex() int64 { return u.Index }

// SetIndex implements database.Record.
func (u *User) SetIndex(index int64) { u.Index = index }

// Serialize implements database.Record.
func (u *User) Serialize() string {
	return database.Serialize(u.Index, u.Username, u.PasswordHash, u.Created)
}

// Clone implements database.Record.
func (u *User) Clone() *User {
	c := *u
	return &c
}

// DeserializeUser is the database.Deserializer for User.
func DeserializeUser(text string) (*User, error) {
	d := database.NewDecoder(text, 4)
	u := &User{Index: d.Int64(), Username: d.String(), PasswordHash: d.String(), Created: d.Time()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return u, nil
}

// Session is an authenticated browser session. UserIndex is 0 for a session
// not bound to an account.
type Session struct {
	Index     int64
	Code      string
	UserIndex int64
	Created   time.Time
}

// GetIndex implements database.Record.
func (s *Session) GetIndex() int64 { return s.Index }

// SetIndex implements database.Record.
func (s *Session) SetIndex(index int64) { s.Index = index }

// Serialize implements database.Record.
func (s *Session) Serialize() string {
	return database.Serialize(s.Index, s.Code, s.UserIndex, s.Created)
}

// Clone implements database.Record.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// DeserializeSession is the database.Deserializer for Session.
func DeserializeSession(text string) (*Session, error) {
	d := database.NewDecoder(text, 4)
	s := &Session{Index: d.Int64(), Code: d.String(), UserIndex: d.Int64(), Created: d.Time()}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
