package models

import "time"

// Cookie is a browser cookie in a storage-neutral shape.
type Cookie struct {
	Name     string  `json:"name" yaml:"name"`
	Value    string  `json:"value" yaml:"value"`
	Domain   string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" yaml:"expires,omitempty"` // unix seconds, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty" yaml:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty" yaml:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty" yaml:"same_site,omitempty"`
}

// SessionState is the persisted browsing state of a context.
type SessionState struct {
	Cookies []Cookie `json:"cookies"`
	// LocalStorage maps an origin to its key/value pairs.
	LocalStorage map[string]map[string]string `json:"local_storage,omitempty"`
	SavedAt      time.Time                    `json:"saved_at"`
}

// Empty reports whether s carries no state.
func (s *SessionState) Empty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.LocalStorage) == 0)
}

// SessionInfo describes a stored session without its payload.
type SessionInfo struct {
	ID      string    `json:"id"`
	Cookies int       `json:"cookies"`
	Origins int       `json:"origins"`
	SavedAt time.Time `json:"saved_at"`
}
