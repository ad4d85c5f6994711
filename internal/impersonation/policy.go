// Package impersonation detects members posing as a group admin by copying
// the admin's display name and avatar.
package impersonation

import "strings"

type Identity struct {
	UserID   int64
	Username string
	FullName string
}

type AvatarDecision struct {
	IsImpersonation bool
	AddToWhitelist  bool
}

// IsPotentialNameImpersonation reports a display-name collision between two
// different accounts. Matching handles mean the same person.
func IsPotentialNameImpersonation(subject, admin Identity) bool {
	subjectName := strings.TrimSpace(subject.FullName)
	adminName := strings.TrimSpace(admin.FullName)
	if subjectName == "" || adminName == "" {
		return false
	}
	if subject.UserID == admin.UserID {
		return false
	}
	if subjectName != adminName {
		return false
	}
	if subject.Username != "" && admin.Username != "" && strings.EqualFold(subject.Username, admin.Username) {
		return false
	}
	return true
}

func DecideAfterAvatarCheck(avatarsSimilar bool) AvatarDecision {
	if avatarsSimilar {
		return AvatarDecision{IsImpersonation: true}
	}
	return AvatarDecision{AddToWhitelist: true}
}
