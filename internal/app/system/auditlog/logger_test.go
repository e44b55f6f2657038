package auditlog_test

import (
	"testing"

	"github.com/josefm09/tracker/internal/app/store/audit"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_NilLogger(t *testing.T) {
	var logger *auditlog.Logger
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger.Log(ctx, audit.Event{EventType: "test"})
	logger.MemberJoined(ctx, primitive.NewObjectID(), primitive.NewObjectID())
	logger.EmergencyAlert(ctx, primitive.NewObjectID(), "a1", 2)
}

func TestLogger_ModeLogOnlyWritesZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(nil, zap.New(core), auditlog.Config{Membership: auditlog.ModeLog})
	fam, user := primitive.NewObjectID(), primitive.NewObjectID()
	logger.RoleChanged(ctx, fam, user, user, "member", "admin")

	entries := logs.FilterMessage("audit event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 zap entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["event_type"] != audit.EventRoleChanged {
		t.Errorf("event_type = %v", fields["event_type"])
	}
	if fields["detail_to"] != "admin" {
		t.Errorf("detail_to = %v", fields["detail_to"])
	}
}

func TestLogger_ModeOff(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(nil, zap.New(core), auditlog.Config{Safety: auditlog.ModeOff})
	logger.EmergencyAlert(ctx, primitive.NewObjectID(), "a1", 1)

	if logs.Len() != 0 {
		t.Errorf("expected no entries, got %d", logs.Len())
	}
}

func TestLogger_ModeDBWritesStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(store, zap.NewNop(), auditlog.Config{Account: auditlog.ModeDB})
	user := primitive.NewObjectID()
	logger.HistoryDeleted(ctx, user, 12)

	events, err := store.GetByUser(ctx, user, 10)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Details["count"] != "12" {
		t.Errorf("count detail = %q", events[0].Details["count"])
	}
}
