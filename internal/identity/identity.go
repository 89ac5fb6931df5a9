package identity

import (
	"bytes"
	"encoding/json"
)

// Unknown is returned when no identifier can be extracted from a user
// reference. Callers render it as "Unknown User" instead of failing.
const Unknown = "unknown"

// Profile is a fully populated hospital user.
type Profile struct {
	ID         string `db:"id" json:"_id"`
	Name       string `db:"name" json:"name,omitempty"`
	Email      string `db:"email" json:"email,omitempty"`
	Role       string `db:"role" json:"role,omitempty"`
	AvatarURL  string `db:"avatar_url" json:"avatar,omitempty"`
	HospitalID string `db:"hospital_id" json:"hospital,omitempty"`
}

// UserRef is a user reference as it appears on the wire: a bare id string,
// an object carrying only an id, or a populated profile. All three shapes
// normalize to the same canonical id.
type UserRef struct {
	ID      string
	Profile *Profile
}

// FromID builds a reference from a bare identifier.
func FromID(id string) UserRef {
	return UserRef{ID: id}
}

// FromProfile builds a reference from a populated profile.
func FromProfile(p Profile) UserRef {
	return UserRef{ID: p.ID, Profile: &p}
}

// Normalize returns the canonical string id for the reference, or Unknown
// when none can be extracted.
func (r UserRef) Normalize() string {
	if r.Profile != nil && r.Profile.ID != "" {
		return r.Profile.ID
	}
	if r.ID != "" {
		return r.ID
	}
	return Unknown
}

// Resolved reports whether the reference carries a usable identifier.
func (r UserRef) Resolved() bool {
	return r.Normalize() != Unknown
}

// Same reports whether two references point at the same user.
func Same(a, b UserRef) bool {
	return a.Normalize() == b.Normalize()
}

// OtherParticipant returns the first participant that is not me. The second
// return value is false when every participant resolves to me or to Unknown,
// which happens with corrupt chat records; callers must not guess in that
// case.
func OtherParticipant(participants []UserRef, me UserRef) (UserRef, bool) {
	mine := me.Normalize()
	for _, p := range participants {
		id := p.Normalize()
		if id != Unknown && id != mine {
			return p, true
		}
	}
	return UserRef{}, false
}

// MarshalJSON writes the populated profile when present, the bare id string
// otherwise.
func (r UserRef) MarshalJSON() ([]byte, error) {
	if r.Profile != nil {
		return json.Marshal(r.Profile)
	}
	return json.Marshal(r.Normalize())
}

// UnmarshalJSON accepts all three wire shapes. A shape that carries no id
// decodes to an unresolved reference rather than an error.
func (r *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = UserRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = UserRef{ID: id}
		return nil
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		// Some producers send {"id": ...} instead of {"_id": ...}.
		var alt struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &alt); err == nil {
			p.ID = alt.ID
		}
	}
	*r = UserRef{ID: p.ID, Profile: &p}
	return nil
}

// NormalizeIDs maps references to canonical ids, dropping unresolved ones
// and duplicates while preserving order.
func NormalizeIDs(refs []UserRef) []string {
	seen := map[string]struct{}{}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id := ref.Normalize()
		if id == Unknown {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
