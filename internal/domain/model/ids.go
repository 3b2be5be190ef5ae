package model

// UserID is the logical recipient identity resolved by the auth layer.
type UserID string

func (id UserID) String() string { return string(id) }
func (id UserID) IsEmpty() bool  { return id == "" }

// SessionID identifies one consumer (device/tab) of a user's messages.
// Unique only within the owning user's registry.
type SessionID string

func (id SessionID) String() string { return string(id) }
func (id SessionID) IsEmpty() bool  { return id == "" }
