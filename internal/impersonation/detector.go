package impersonation

import (
	"context"
	"errors"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/ngguard/internal/config"
)

const ReasonAvatarMismatch = "avatar_mismatch"

// errOneSidedAvatar marks a pair where only one user has an avatar. Such a
// pair proves nothing: the subject may set a copied photo later.
var errOneSidedAvatar = errors.New("only one side has an avatar")

type (
	avatarGateway interface {
		// GetAvatarRef returns "" when the user has no avatar.
		GetAvatarRef(ctx context.Context, userID int64) (string, error)
		CompareAvatars(ctx context.Context, refA, refB string) (bool, error)
	}

	Verdict struct {
		Impersonation bool
		Admin         Identity
	}

	Detector struct {
		admins        *AdminCache
		whitelist     *Whitelist
		avatars       avatarGateway
		minNameLength int
	}
)

func NewDetector(cfg config.Impersonation, lister adminLister, avatars avatarGateway, clock Clock) *Detector {
	return &Detector{
		admins:        NewAdminCache(cfg.AdminTTL, lister, clock),
		whitelist:     NewWhitelist(cfg.WhitelistTTL, clock),
		avatars:       avatars,
		minNameLength: cfg.MinNameLength,
	}
}

func (d *Detector) AdminCache() *AdminCache {
	return d.admins
}

func (d *Detector) Whitelist() *Whitelist {
	return d.whitelist
}

// Check compares subject against every admin of chatID. Pairs whose avatars
// cannot be fetched are skipped. A subject that collides only with admins it
// does not resemble is whitelisted.
func (d *Detector) Check(ctx context.Context, chatID int64, subject Identity) Verdict {
	entry := d.getLogEntry().WithFields(log.Fields{
		"method":  "Check",
		"chat_id": chatID,
		"user_id": subject.UserID,
	})

	if utf8.RuneCountInString(subject.FullName) < d.minNameLength {
		return Verdict{}
	}
	if d.whitelist.IsWhitelisted(chatID, subject.UserID) {
		entry.Trace("whitelisted")
		return Verdict{}
	}
	if !d.admins.EnsureAdminCache(ctx, chatID) {
		entry.Debug("no admin roster available")
		return Verdict{}
	}
	if d.admins.IsAdmin(chatID, subject.UserID) {
		return Verdict{}
	}

	var (
		subjectRef    string
		subjectLoaded bool
		compared      bool
	)
	for _, admin := range d.admins.Admins(chatID) {
		if !IsPotentialNameImpersonation(subject, admin) {
			continue
		}
		if !subjectLoaded {
			ref, err := d.avatars.GetAvatarRef(ctx, subject.UserID)
			if err != nil {
				entry.WithField("error", err.Error()).Warn("cant fetch subject avatar, skipping check")
				return Verdict{}
			}
			subjectRef, subjectLoaded = ref, true
		}
		adminRef, err := d.avatars.GetAvatarRef(ctx, admin.UserID)
		if err != nil {
			entry.WithField("admin_id", admin.UserID).WithField("error", err.Error()).Warn("cant fetch admin avatar, skipping pair")
			continue
		}

		similar, err := d.compare(ctx, subjectRef, adminRef)
		if errors.Is(err, errOneSidedAvatar) {
			entry.WithField("admin_id", admin.UserID).Debug("avatar missing on one side, skipping pair")
			continue
		}
		if err != nil {
			entry.WithField("admin_id", admin.UserID).WithField("error", err.Error()).Warn("cant compare avatars, skipping pair")
			continue
		}
		compared = true

		decision := DecideAfterAvatarCheck(similar)
		if decision.IsImpersonation {
			entry.WithField("admin_id", admin.UserID).Info("admin impersonation detected")
			return Verdict{Impersonation: true, Admin: admin}
		}
	}

	if compared {
		d.whitelist.Add(chatID, subject.UserID, ReasonAvatarMismatch)
		entry.Debug("name collision cleared by avatar, whitelisted")
	}
	return Verdict{}
}

// compare treats two missing avatars as alike: both render as the same
// initials placeholder. A single missing avatar is not comparable.
func (d *Detector) compare(ctx context.Context, refA, refB string) (bool, error) {
	switch {
	case refA == "" && refB == "":
		return true, nil
	case refA == "" || refB == "":
		return false, errOneSidedAvatar
	}
	return d.avatars.CompareAvatars(ctx, refA, refB)
}

func (d *Detector) getLogEntry() *log.Entry {
	return log.WithField("object", "ImpersonationDetector")
}
