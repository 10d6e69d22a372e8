package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

var profileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/goliatone/go-crmwatch/credentials"))

// ProfileID is the stable row id of a credential profile, so a profile
// always resolves to the same row across processes.
func ProfileID(profile string) uuid.UUID {
	return uuid.NewSHA1(profileNamespace, []byte(normalizeProfile(profile)))
}

func normalizeProfile(profile string) string {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		return DefaultProfile
	}
	return profile
}

// credentialHandlers keys rows by profile; ids are derived, never parsed from
// caller input.
func credentialHandlers() repository.ModelHandlers[*credentialRecord] {
	return repository.ModelHandlers[*credentialRecord]{
		NewRecord: func() *credentialRecord { return &credentialRecord{} },
		GetID: func(record *credentialRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			if id, err := uuid.Parse(record.ID); err == nil {
				return id
			}
			return ProfileID(record.Profile)
		},
		SetID: func(record *credentialRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "profile" },
		GetIdentifierValue: func(record *credentialRecord) string {
			if record == nil {
				return ""
			}
			return normalizeProfile(record.Profile)
		},
	}
}
