package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAgreesAcrossShapes(t *testing.T) {
	raw := FromID("u1")
	full := FromProfile(Profile{ID: "u1", Name: "Dr. Adams", Email: "adams@hospital.test"})
	ref := UserRef{Profile: &Profile{ID: "u1"}}

	require.Equal(t, "u1", raw.Normalize())
	require.Equal(t, raw.Normalize(), full.Normalize())
	require.Equal(t, raw.Normalize(), ref.Normalize())
	require.True(t, Same(raw, full))
	require.True(t, Same(full, ref))
}

func TestNormalizeFailsClosed(t *testing.T) {
	require.Equal(t, Unknown, UserRef{}.Normalize())
	require.Equal(t, Unknown, UserRef{Profile: &Profile{}}.Normalize())
	require.False(t, UserRef{}.Resolved())
}

func TestUnmarshalBareString(t *testing.T) {
	var ref UserRef
	require.NoError(t, json.Unmarshal([]byte(`"u7"`), &ref))
	require.Equal(t, "u7", ref.Normalize())
	require.Nil(t, ref.Profile)
}

func TestUnmarshalIDObject(t *testing.T) {
	var ref UserRef
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"u7"}`), &ref))
	require.Equal(t, "u7", ref.Normalize())
}

func TestUnmarshalAltIDField(t *testing.T) {
	var ref UserRef
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u7"}`), &ref))
	require.Equal(t, "u7", ref.Normalize())
}

func TestUnmarshalFullProfile(t *testing.T) {
	var ref UserRef
	payload := `{"_id":"u7","name":"Dr. Banner","email":"banner@hospital.test","role":"doctor"}`
	require.NoError(t, json.Unmarshal([]byte(payload), &ref))
	require.Equal(t, "u7", ref.Normalize())
	require.NotNil(t, ref.Profile)
	require.Equal(t, "Dr. Banner", ref.Profile.Name)
}

func TestUnmarshalEmptyObjectIsUnresolved(t *testing.T) {
	var ref UserRef
	require.NoError(t, json.Unmarshal([]byte(`{}`), &ref))
	require.Equal(t, Unknown, ref.Normalize())
}

func TestMarshalRoundTrip(t *testing.T) {
	full := FromProfile(Profile{ID: "u1", Name: "Dr. Adams"})
	data, err := json.Marshal(full)
	require.NoError(t, err)

	var back UserRef
	require.NoError(t, json.Unmarshal(data, &back))
	require.True(t, Same(full, back))

	bare := FromID("u2")
	data, err = json.Marshal(bare)
	require.NoError(t, err)
	require.JSONEq(t, `"u2"`, string(data))
}

func TestOtherParticipant(t *testing.T) {
	me := FromID("u1")
	participants := []UserRef{FromID("u1"), FromProfile(Profile{ID: "u2", Name: "Dr. Chen"})}

	other, ok := OtherParticipant(participants, me)
	require.True(t, ok)
	require.Equal(t, "u2", other.Normalize())
}

func TestOtherParticipantUnresolvedOnCorruptData(t *testing.T) {
	me := FromID("u1")

	_, ok := OtherParticipant([]UserRef{FromID("u1"), FromID("u1")}, me)
	require.False(t, ok)

	_, ok = OtherParticipant([]UserRef{{}, {}}, me)
	require.False(t, ok)
}

func TestNormalizeIDsDropsUnknownAndDuplicates(t *testing.T) {
	refs := []UserRef{FromID("u2"), {}, FromID("u3"), FromID("u2")}
	require.Equal(t, []string{"u2", "u3"}, NormalizeIDs(refs))
}
