package chat

import "time"

const UnknownUserName = "Unknown user"

// Profile is the public display identity of a user, owned by the profile subsystem.
type Profile struct {
	ID        UserID
	Name      string
	AvatarRef string
	Role      string
	Contact   string
	// Unknown marks a placeholder produced when the identity could not be resolved.
	Unknown bool
}

// UnknownProfile is the placeholder identity for ids that cannot be resolved.
func UnknownProfile(id UserID) Profile {
	return Profile{ID: id, Name: UnknownUserName, Unknown: true}
}

// DisplayName falls back to the placeholder label when the profile has no name.
func (p Profile) DisplayName() string {
	if p.Name == "" {
		return UnknownUserName
	}
	return p.Name
}

// Conversation is derived from the message log for a viewing user; it is never stored.
type Conversation struct {
	Counterpart Profile
	LastMessage Message
	UnreadCount int
}

func (c Conversation) HasUnread() bool {
	return c.UnreadCount > 0
}

// ReadMarker is the position up to which a viewer has read a conversation.
type ReadMarker struct {
	Viewer      UserID
	Counterpart UserID
	ReadAt      time.Time
}
