// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"strconv"

	"github.com/josefm09/tracker/internal/app/store/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations for a category.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"  // MongoDB only
	ModeLog = "log" // zap only
	ModeOff = "off"
)

// Config chooses a destination per category. Empty means ModeAll.
type Config struct {
	Membership string // membership and place changes
	Account    string // account and privacy changes
	Safety     string // emergency alerts
}

// Logger records audit events to the audit store and to zap.
// A nil *Logger is a no-op.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) modeFor(category string) string {
	var m string
	switch category {
	case audit.CategoryMembership, audit.CategoryPlace:
		m = l.config.Membership
	case audit.CategoryAccount:
		m = l.config.Account
	case audit.CategorySafety:
		m = l.config.Safety
	}
	if m == "" {
		return ModeAll
	}
	return m
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.FamilyID != nil {
		fields = append(fields, zap.String("family_id", event.FamilyID.Hex()))
	}
	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}
	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records event according to the category's mode. Store failures are
// logged and swallowed; auditing never fails the caller's operation.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}
	mode := l.modeFor(event.Category)
	if mode == ModeOff {
		return
	}
	if (mode == ModeAll || mode == ModeLog) && l.zapLog != nil {
		l.logToZap(event)
	}
	if (mode == ModeAll || mode == ModeDB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil && l.zapLog != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func (l *Logger) membership(ctx context.Context, eventType string, familyID, userID, actorID primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryMembership,
		EventType: eventType,
		FamilyID:  &familyID,
		UserID:    &userID,
		ActorID:   &actorID,
		Success:   true,
		Details:   details,
	})
}

// --- Membership ---

func (l *Logger) FamilyCreated(ctx context.Context, familyID, creatorID primitive.ObjectID, name string) {
	l.membership(ctx, audit.EventFamilyCreated, familyID, creatorID, creatorID, map[string]string{"name": name})
}

func (l *Logger) MemberJoined(ctx context.Context, familyID, userID primitive.ObjectID) {
	l.membership(ctx, audit.EventMemberJoined, familyID, userID, userID, nil)
}

func (l *Logger) MemberAdded(ctx context.Context, familyID, userID, actorID primitive.ObjectID, role string) {
	l.membership(ctx, audit.EventMemberAdded, familyID, userID, actorID, map[string]string{"role": role})
}

func (l *Logger) MemberRemoved(ctx context.Context, familyID, userID, actorID primitive.ObjectID) {
	l.membership(ctx, audit.EventMemberRemoved, familyID, userID, actorID, nil)
}

func (l *Logger) MemberLeft(ctx context.Context, familyID, userID primitive.ObjectID) {
	l.membership(ctx, audit.EventMemberLeft, familyID, userID, userID, nil)
}

func (l *Logger) RoleChanged(ctx context.Context, familyID, userID, actorID primitive.ObjectID, from, to string) {
	l.membership(ctx, audit.EventRoleChanged, familyID, userID, actorID, map[string]string{"from": from, "to": to})
}

func (l *Logger) InviteCodeRotated(ctx context.Context, familyID, actorID primitive.ObjectID) {
	l.membership(ctx, audit.EventInviteCodeRotated, familyID, actorID, actorID, nil)
}

// --- Places ---

func (l *Logger) PlaceCreated(ctx context.Context, familyID, placeID, actorID primitive.ObjectID, name string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryPlace,
		EventType: audit.EventPlaceCreated,
		FamilyID:  &familyID,
		ActorID:   &actorID,
		Success:   true,
		Details:   map[string]string{"place_id": placeID.Hex(), "name": name},
	})
}

func (l *Logger) PlaceDeleted(ctx context.Context, familyID, placeID, actorID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryPlace,
		EventType: audit.EventPlaceDeleted,
		FamilyID:  &familyID,
		ActorID:   &actorID,
		Success:   true,
		Details:   map[string]string{"place_id": placeID.Hex()},
	})
}

// --- Account ---

func (l *Logger) account(ctx context.Context, eventType string, userID primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAccount,
		EventType: eventType,
		UserID:    &userID,
		ActorID:   &userID,
		Success:   true,
		Details:   details,
	})
}

func (l *Logger) SettingsUpdated(ctx context.Context, userID primitive.ObjectID, section string) {
	l.account(ctx, audit.EventSettingsUpdated, userID, map[string]string{"section": section})
}

func (l *Logger) AccountDeactivated(ctx context.Context, userID primitive.ObjectID) {
	l.account(ctx, audit.EventAccountDeactivated, userID, nil)
}

func (l *Logger) HistoryDeleted(ctx context.Context, userID primitive.ObjectID, count int64) {
	l.account(ctx, audit.EventHistoryDeleted, userID, map[string]string{"count": strconv.FormatInt(count, 10)})
}

// --- Safety ---

// EmergencyAlert records that userID raised an alert to the given families.
func (l *Logger) EmergencyAlert(ctx context.Context, userID primitive.ObjectID, alertID string, families int) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategorySafety,
		EventType: audit.EventEmergencyAlert,
		UserID:    &userID,
		ActorID:   &userID,
		Success:   families > 0,
		Details:   map[string]string{"alert_id": alertID, "families": strconv.Itoa(families)},
	})
}
