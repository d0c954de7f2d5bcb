package core

import (
	"context"
	"errors"
)

// ErrProfileNotFound is returned by DirectoryService.GetProfile for unknown ids.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the subset of a remote user record the consumers need.
type Profile struct {
	ID                    string `json:"id"`
	DisplayName           string `json:"displayName"`
	CurrentAvatarImageURL string `json:"currentAvatarImageUrl"`
	CurrentAvatarThumbURL string `json:"currentAvatarThumbnailImageUrl"`
	ProfilePicOverride    string `json:"profilePicOverride"`
}

// DirectoryService is the remote user/group directory.
// Implementations must not retry; callers own the retry policy.
type DirectoryService interface {
	// GetProfile looks up a user. Unknown ids yield ErrProfileNotFound.
	GetProfile(ctx context.Context, id string) (Profile, error)

	// Ban bans the user from the group.
	Ban(ctx context.Context, groupID, id string) error

	// Invite sends the user a group invite.
	Invite(ctx context.Context, groupID, id string) error
}
