package reminder

import (
	"testing"

	"github.com/google/uuid"

	"github.com/owenfields/lectern/internal/db"
)

func strPtr(s string) *string {
	return &s
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		profile     *db.Profile
		pref        *db.EmailPreference
		wantEmail   string
		wantEnabled bool
	}{
		{
			name: "no preference row falls back to account email",
			profile: &db.Profile{
				ID:    uuid.New(),
				Email: "student@university.edu",
			},
			pref:        nil,
			wantEmail:   "student@university.edu",
			wantEnabled: true,
		},
		{
			name: "profile notification email beats account email",
			profile: &db.Profile{
				ID:                uuid.New(),
				Email:             "student@university.edu",
				NotificationEmail: strPtr("personal@gmail.com"),
			},
			pref:        nil,
			wantEmail:   "personal@gmail.com",
			wantEnabled: true,
		},
		{
			name: "preference override beats everything",
			profile: &db.Profile{
				ID:                uuid.New(),
				Email:             "student@university.edu",
				NotificationEmail: strPtr("personal@gmail.com"),
			},
			pref: &db.EmailPreference{
				NotificationEmail: "override@example.com",
				LectureReminders:  true,
			},
			wantEmail:   "override@example.com",
			wantEnabled: true,
		},
		{
			name: "empty preference override falls through",
			profile: &db.Profile{
				ID:                uuid.New(),
				Email:             "student@university.edu",
				NotificationEmail: strPtr("personal@gmail.com"),
			},
			pref: &db.EmailPreference{
				NotificationEmail: "",
				LectureReminders:  true,
			},
			wantEmail:   "personal@gmail.com",
			wantEnabled: true,
		},
		{
			name: "reminders disabled still resolves an email",
			profile: &db.Profile{
				ID:    uuid.New(),
				Email: "student@university.edu",
			},
			pref: &db.EmailPreference{
				LectureReminders: false,
			},
			wantEmail:   "student@university.edu",
			wantEnabled: false,
		},
		{
			name: "empty profile notification email falls through to account",
			profile: &db.Profile{
				ID:                uuid.New(),
				Email:             "student@university.edu",
				NotificationEmail: strPtr(""),
			},
			pref:        nil,
			wantEmail:   "student@university.edu",
			wantEnabled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, enabled := Resolve(tt.profile, tt.pref)

			if email != tt.wantEmail {
				t.Errorf("email = %q, want %q", email, tt.wantEmail)
			}
			if enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", enabled, tt.wantEnabled)
			}
		})
	}
}
