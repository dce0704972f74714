package reminder

import (
	"github.com/owenfields/lectern/internal/db"
)

// Resolve returns the effective notification email for a recipient and
// whether lecture reminders are enabled. The preference row may be nil,
// which means defaults: account email, reminders on.
//
// Email precedence: preference override, then the profile-level
// notification email, then the account email. First non-empty wins.
// Pure over its two inputs; no side effects.
func Resolve(profile *db.Profile, pref *db.EmailPreference) (email string, remindersEnabled bool) {
	remindersEnabled = true

	if pref != nil {
		remindersEnabled = pref.LectureReminders
		if pref.NotificationEmail != "" {
			email = pref.NotificationEmail
		}
	}

	if email == "" && profile.NotificationEmail != nil && *profile.NotificationEmail != "" {
		email = *profile.NotificationEmail
	}

	if email == "" {
		email = profile.Email
	}

	return email, remindersEnabled
}
