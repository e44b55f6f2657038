package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/domain/geofence"
	"github.com/josefm09/tracker/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func float(v float64) *float64 { return &v }

func TestConnect_JoinsPersonalAndFamilyRooms(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()

	c := fx.connect(ctx, "alice-1", fx.alice)

	assert.True(t, fx.hub.InRoom(c.ID(), realtime.UserRoom(fx.alice.ID)))
	assert.True(t, fx.hub.InRoom(c.ID(), realtime.FamilyRoom(fx.family.ID)))
	assert.True(t, fx.hub.InRoom(c.ID(), realtime.FamilyRoom(fx.other.ID)))
}

func TestConnect_AnnouncesOnlineOnFirstConnectionOnly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)
	dave := fx.connect(ctx, "dave", fx.dave)
	bob.reset()
	dave.reset()

	first := fx.connect(ctx, "alice-1", fx.alice)

	got := bob.received(realtime.OutUserStatusChange)
	require.Len(t, got, 1)
	change := got[0].Data.(realtime.UserStatusChange)
	assert.Equal(t, fx.alice.ID, change.UserID)
	assert.Equal(t, realtime.StatusOnline, change.Status)
	assert.Len(t, dave.received(realtime.OutUserStatusChange), 1)
	assert.Empty(t, first.received(realtime.OutUserStatusChange))

	bob.reset()
	fx.connect(ctx, "alice-2", fx.alice)
	assert.Empty(t, bob.received(realtime.OutUserStatusChange))
}

func TestConnect_RejectsInactiveOrUnknownUser(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	fx.bob.Status = models.UserStatusDeactivated

	_, err := fx.router.Connect(ctx, newConn("bob", fx.bob.ID))
	assert.ErrorIs(t, err, apperr.Permission)

	_, err = fx.router.Connect(ctx, newConn("ghost", primitive.NewObjectID()))
	assert.ErrorIs(t, err, apperr.Permission)
	assert.Equal(t, 0, fx.hub.ConnCount())
}

func TestDisconnect_OfflineOnlyAfterLastConnection(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)
	a1 := fx.connect(ctx, "alice-1", fx.alice)
	a2 := fx.connect(ctx, "alice-2", fx.alice)
	bob.reset()

	fx.router.Disconnect(ctx, a1)
	assert.Empty(t, bob.received(realtime.OutUserStatusChange))
	assert.NotContains(t, fx.users.touched, fx.alice.ID)

	fx.router.Disconnect(ctx, a2)
	got := bob.received(realtime.OutUserStatusChange)
	require.Len(t, got, 1)
	change := got[0].Data.(realtime.UserStatusChange)
	assert.Equal(t, realtime.StatusOffline, change.Status)
	require.NotNil(t, change.LastActive)
	assert.Equal(t, *change.LastActive, fx.users.touched[fx.alice.ID])
	assert.False(t, fx.hub.Online(fx.alice.ID))
}

func TestPresence_HiddenUserIsNotAnnounced(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	fx.alice.PrivacySettings.VisibleToFamily = false
	bob := fx.connect(ctx, "bob", fx.bob)
	bob.reset()

	a := fx.connect(ctx, "alice", fx.alice)
	fx.router.Disconnect(ctx, a)

	assert.Empty(t, bob.received(realtime.OutUserStatusChange))
}

func sampleFor(u *models.User, c models.Coordinates) models.LocationSample {
	return models.LocationSample{
		ID:                primitive.NewObjectID(),
		UserID:            u.ID,
		Coordinates:       c,
		Timestamp:         time.Now().UTC(),
		FamilyIDsSnapshot: u.FamilyIDs(),
		IsActive:          true,
	}
}

func TestLocationUpdate_SkipsSenderConnection(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice-phone", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)
	dave := fx.connect(ctx, "dave", fx.dave)

	sample := sampleFor(fx.alice, models.Coordinates{Latitude: 1, Longitude: 2})
	n := fx.router.LocationUpdate(fx.alice, nil, sample, sender.ID())

	assert.Equal(t, 2, n)
	assert.Empty(t, sender.received(realtime.OutMemberLocationUpdate))
	got := bob.received(realtime.OutMemberLocationUpdate)
	require.Len(t, got, 1)
	upd := got[0].Data.(realtime.MemberLocationUpdate)
	assert.Equal(t, fx.alice.ID, upd.User.ID)
	assert.Equal(t, sample.Coordinates, upd.Location.Coordinates)
	assert.ElementsMatch(t, []primitive.ObjectID{fx.family.ID, fx.other.ID}, upd.FamilyIDs)
	assert.Len(t, dave.received(realtime.OutMemberLocationUpdate), 1)
}

func TestLocationUpdate_RespectsOwnerPrivacy(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)
	fx.alice.PrivacySettings.VisibleToFamily = false

	n := fx.router.LocationUpdate(fx.alice, nil, sampleFor(fx.alice, models.Coordinates{}), "")

	assert.Equal(t, 0, n)
	assert.Empty(t, bob.received(realtime.OutMemberLocationUpdate))
}

func TestLocationUpdate_RespectsRecipientPreference(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)
	carol := fx.connect(ctx, "carol", fx.carol)
	fx.family.Members[1].NotificationPrefs.LocationUpdates = false

	families := []models.Family{*fx.family, *fx.other}
	fx.router.LocationUpdate(fx.alice, families, sampleFor(fx.alice, models.Coordinates{}), "")

	assert.Empty(t, bob.received(realtime.OutMemberLocationUpdate))
	assert.Len(t, carol.received(realtime.OutMemberLocationUpdate), 1)
}

func TestEmergencyAlert_ReachesEveryMemberRegardlessOfPrivacy(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	fx.alice.LocationSettings.ShareLocation = false
	fx.alice.PrivacySettings.VisibleToFamily = false
	fx.bob.PrivacySettings.VisibleToFamily = false
	last := sampleFor(fx.alice, models.Coordinates{Latitude: 10, Longitude: 20})
	fx.locations.latest[fx.alice.ID] = &last

	sender := fx.connect(ctx, "alice-1", fx.alice)
	other := fx.connect(ctx, "alice-2", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)
	carol := fx.connect(ctx, "carol", fx.carol)
	dave := fx.connect(ctx, "dave", fx.dave)

	id, err := fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{Message: "<b>help</b>"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	for _, c := range []*fakeConn{sender, other, bob, carol, dave} {
		got := c.received(realtime.OutEmergencyAlert)
		require.Len(t, got, 1, c.ID())
		alert := got[0].Data.(realtime.EmergencyAlert)
		assert.Equal(t, id, alert.AlertID)
		assert.Equal(t, "help", alert.Message)
		require.NotNil(t, alert.Location)
		assert.Equal(t, last.Coordinates, alert.Location.Coordinates)
	}
}

func TestEmergencyAlert_LocationFallbacks(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)

	_, err := fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{})
	require.NoError(t, err)
	alert := bob.received(realtime.OutEmergencyAlert)[0].Data.(realtime.EmergencyAlert)
	assert.Nil(t, alert.Location)

	bob.reset()
	here := models.Coordinates{Latitude: 5, Longitude: 6}
	_, err = fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{Coordinates: &here})
	require.NoError(t, err)
	alert = bob.received(realtime.OutEmergencyAlert)[0].Data.(realtime.EmergencyAlert)
	require.NotNil(t, alert.Location)
	assert.Equal(t, here, alert.Location.Coordinates)

	bad := models.Coordinates{Latitude: 91}
	_, err = fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{Coordinates: &bad})
	assert.ErrorIs(t, err, apperr.Validation)
}

func TestEmergencyAlert_ReachesMemberWhoLeftTheRoom(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)
	erin := newUser("Erin")
	fx.users.byID[erin.ID] = erin
	stranger := fx.connect(ctx, "erin", erin)

	require.NoError(t, fx.router.LeaveFamily(ctx, bob, fx.family.ID))
	require.False(t, fx.hub.InRoom(bob.ID(), realtime.FamilyRoom(fx.family.ID)))

	_, err := fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{})
	require.NoError(t, err)

	assert.Len(t, bob.received(realtime.OutEmergencyAlert), 1, "bob is still a member")
	assert.Len(t, sender.received(realtime.OutEmergencyAlert), 1)
	assert.Empty(t, stranger.received(realtime.OutEmergencyAlert))
}

func TestEmergencyAlert_FamilyLoadFailureUsesFamilyRooms(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice", fx.alice)
	carol := fx.connect(ctx, "carol", fx.carol)
	fx.families.listErr = errors.New("timeout")

	_, err := fx.router.EmergencyAlert(ctx, sender, realtime.EmergencyRequest{})
	require.NoError(t, err)
	assert.Len(t, carol.received(realtime.OutEmergencyAlert), 1)
}

func TestBatteryAlert_Threshold(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)

	tests := []struct {
		name  string
		level float64
		sent  bool
	}{
		{"above threshold", 21, false},
		{"at threshold", 20, true},
		{"below threshold", 5, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bob.reset()
			sent, err := fx.router.BatteryAlert(ctx, sender, realtime.BatteryRequest{Level: float(tc.level)})
			require.NoError(t, err)
			assert.Equal(t, tc.sent, sent)
			if tc.sent {
				assert.Len(t, bob.received(realtime.OutBatteryAlert), 1)
			} else {
				assert.Empty(t, bob.received(realtime.OutBatteryAlert))
			}
			assert.Empty(t, sender.received(realtime.OutBatteryAlert))
		})
	}
}

func TestBatteryAlert_RejectsInvalidLevel(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	sender := fx.connect(ctx, "alice", fx.alice)

	for _, lvl := range []*float64{nil, float(-1), float(101)} {
		_, err := fx.router.BatteryAlert(ctx, sender, realtime.BatteryRequest{Level: lvl})
		assert.ErrorIs(t, err, apperr.Validation)
	}
}

func TestJoinFamily(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	dave := fx.connect(ctx, "dave", fx.dave)
	fx.hub.Leave(dave, realtime.FamilyRoom(fx.other.ID))

	err := fx.router.JoinFamily(ctx, dave, fx.family.ID)
	assert.ErrorIs(t, err, apperr.Permission)
	assert.False(t, fx.hub.InRoom(dave.ID(), realtime.FamilyRoom(fx.family.ID)))

	err = fx.router.JoinFamily(ctx, dave, primitive.NewObjectID())
	assert.ErrorIs(t, err, apperr.NotFound)

	require.NoError(t, fx.router.JoinFamily(ctx, dave, fx.other.ID))
	assert.True(t, fx.hub.InRoom(dave.ID(), realtime.FamilyRoom(fx.other.ID)))
	got := dave.received(realtime.OutJoinedFamily)
	require.Len(t, got, 1)
	assert.Equal(t, fx.other.ID, got[0].Data.(realtime.FamilyRoomAck).FamilyID)
}

func TestLeaveFamily(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)

	require.NoError(t, fx.router.LeaveFamily(ctx, bob, fx.family.ID))

	assert.False(t, fx.hub.InRoom(bob.ID(), realtime.FamilyRoom(fx.family.ID)))
	assert.Len(t, bob.received(realtime.OutLeftFamily), 1)
}

func TestFamilyLocations_AppliesPermissions(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	fx.bob.LocationSettings.ShareLocation = false
	fx.carol.PrivacySettings.VisibleToFamily = false
	for _, u := range []*models.User{fx.alice, fx.bob, fx.carol} {
		s := sampleFor(u, models.Coordinates{Latitude: 1, Longitude: 1})
		fx.locations.latest[u.ID] = &s
	}

	reply, err := fx.router.FamilyLocations(ctx, fx.alice.ID, &fx.family.ID)
	require.NoError(t, err)

	require.Len(t, reply.Families, 1)
	members := reply.Families[0].Members
	require.Len(t, members, 2, "carol is hidden")
	assert.Equal(t, fx.alice.ID, members[0].User.ID)
	assert.NotNil(t, members[0].Location)
	assert.Equal(t, fx.bob.ID, members[1].User.ID)
	assert.Nil(t, members[1].Location, "bob does not share location")
}

func TestFamilyLocations_AllFamiliesAndIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	s := sampleFor(fx.dave, models.Coordinates{Latitude: 3, Longitude: 4})
	fx.locations.latest[fx.dave.ID] = &s

	first, err := fx.router.FamilyLocations(ctx, fx.alice.ID, nil)
	require.NoError(t, err)
	second, err := fx.router.FamilyLocations(ctx, fx.alice.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first.Families, 2)
	assert.Equal(t, fx.family.ID, first.Families[0].FamilyID)
	assert.Equal(t, fx.other.ID, first.Families[1].FamilyID)
}

func TestFamilyLocations_NonMemberDenied(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()

	_, err := fx.router.FamilyLocations(ctx, fx.dave.ID, &fx.family.ID)
	assert.ErrorIs(t, err, apperr.Permission)
}

func TestSendFamilyLocations(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)

	require.NoError(t, fx.router.SendFamilyLocations(ctx, bob, nil))

	got := bob.received(realtime.OutFamilyLocations)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Data.(realtime.FamilyLocationsReply).Families, 1)
}

func TestDeliverPlaceAlerts_OnlyPersonalRoomsOfRecipients(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	alice := fx.connect(ctx, "alice", fx.alice)
	bob := fx.connect(ctx, "bob", fx.bob)
	carol := fx.connect(ctx, "carol", fx.carol)

	alert := geofence.Alert{
		Type:       geofence.Arrival,
		FamilyID:   fx.family.ID,
		Place:      geofence.PlaceRef{ID: primitive.NewObjectID(), Name: "School"},
		User:       fx.alice.Public(),
		Recipients: []primitive.ObjectID{fx.bob.ID},
	}
	n := fx.router.DeliverPlaceAlerts([]geofence.Alert{alert}, []models.Family{*fx.family})

	assert.Equal(t, 1, n)
	assert.Len(t, bob.received(realtime.OutPlaceAlert), 1)
	assert.Empty(t, carol.received(realtime.OutPlaceAlert))
	assert.Empty(t, alice.received(realtime.OutPlaceAlert))
}

func TestDeliverPlaceAlerts_RespectsPreference(t *testing.T) {
	ctx := context.Background()
	fx := newFixture()
	bob := fx.connect(ctx, "bob", fx.bob)
	fx.family.Members[1].NotificationPrefs.PlaceAlerts = false

	alert := geofence.Alert{Type: geofence.Departure, FamilyID: fx.family.ID, Recipients: []primitive.ObjectID{fx.bob.ID}}
	n := fx.router.DeliverPlaceAlerts([]geofence.Alert{alert}, []models.Family{*fx.family})

	assert.Equal(t, 0, n)
	assert.Empty(t, bob.received(realtime.OutPlaceAlert))
}

func TestErrorEvent(t *testing.T) {
	ev := realtime.ErrorEvent(realtime.InJoinFamily, apperr.New(apperr.KindPermission, "op", "nope"))
	assert.Equal(t, realtime.OutError, ev.Name)
	assert.Equal(t, realtime.ErrorPayload{Code: "permission_denied", Message: "nope", Event: "join_family"}, ev.Data)

	ev = realtime.ErrorEvent(realtime.InJoinFamily, apperr.New(apperr.KindNotFound, "op", "missing"))
	assert.Equal(t, "not_found", ev.Data.(realtime.ErrorPayload).Code)
}
