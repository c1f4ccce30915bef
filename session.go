package anihive

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

const (
	pendingEmailKey = "pending_verify_email"
	flashKey        = "flash"
)

// FlashKind is the tone of a flash notification.
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

// Flash is a one shot notification shown on the next rendered page.
type Flash struct {
	Kind        FlashKind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
}

// FormSession holds the values the auth forms keep for the lifetime of the
// browser session: the email waiting for verification and the pending
// flash notification.
type FormSession struct {
	sess  *session.Session
	dirty bool
}

// LoadFormSession reads the browser session of the request.
func LoadFormSession(store *session.Store, c *fiber.Ctx) (*FormSession, error) {
	sess, err := store.Get(c)
	if err != nil {
		return nil, err
	}
	return &FormSession{sess: sess}, nil
}

// ID returns the browser session id.
func (s *FormSession) ID() string {
	return s.sess.ID()
}

// PendingEmail returns the email waiting for verification.
func (s *FormSession) PendingEmail() string {
	email, _ := s.sess.Get(pendingEmailKey).(string)
	return email
}

func (s *FormSession) SetPendingEmail(email string) {
	if email == "" || email == s.PendingEmail() {
		return
	}
	s.sess.Set(pendingEmailKey, email)
	s.dirty = true
}

func (s *FormSession) ClearPendingEmail() {
	if s.PendingEmail() == "" {
		return
	}
	s.sess.Delete(pendingEmailKey)
	s.dirty = true
}

// SetFlash queues f for the next rendered page, replacing any queued one.
func (s *FormSession) SetFlash(f Flash) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.sess.Set(flashKey, string(raw))
	s.dirty = true
}

// PopFlash returns the queued flash and removes it.
func (s *FormSession) PopFlash() *Flash {
	raw, ok := s.sess.Get(flashKey).(string)
	if !ok || raw == "" {
		return nil
	}
	s.sess.Delete(flashKey)
	s.dirty = true

	f := &Flash{}
	if err := json.Unmarshal([]byte(raw), f); err != nil {
		return nil
	}
	return f
}

// Save persists the session when something changed.
func (s *FormSession) Save() error {
	if !s.dirty {
		return nil
	}
	s.dirty = false
	return s.sess.Save()
}
