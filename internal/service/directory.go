package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"conversation-service/internal/models"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
)

// Auditor records membership actions. *telemetry.AuditEmitter satisfies it, including a nil one.
type Auditor interface {
	Emit(ctx context.Context, rec telemetry.AuditRecord)
}

// Directory creates conversations and mutates their membership.
type Directory struct {
	convs  repositories.ConversationRepository
	fanout Fanout
	audit  Auditor
	logger *zap.Logger
	now    func() time.Time
}

func NewDirectory(convs repositories.ConversationRepository, fanout Fanout, audit Auditor, logger *zap.Logger) *Directory {
	if audit == nil {
		audit = (*telemetry.AuditEmitter)(nil)
	}
	return &Directory{
		convs:  convs,
		fanout: orNoop(fanout),
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// CreatePrivate finds or creates the private conversation of a and b.
func (d *Directory) CreatePrivate(ctx context.Context, userA, userB int) (models.Conversation, models.CreateStatus, error) {
	if userA <= 0 || userB <= 0 {
		return models.Conversation{}, "", validationf("user ids must be positive")
	}
	if userA == userB {
		return models.Conversation{}, "", validationf("cannot start a private conversation with yourself")
	}

	conv, created, err := d.convs.FindOrCreatePrivate(ctx, userA, userB)
	if err != nil {
		return models.Conversation{}, "", transient("create private conversation", err)
	}
	if !created {
		return conv, models.StatusExists, nil
	}

	d.logger.Info("private conversation created",
		zap.Int("conversation_id", conv.ID), zap.Int("user_a", userA), zap.Int("user_b", userB))
	return conv, models.StatusCreated, nil
}

// CreateGroup creates a group owned by creatorID. Member ids equal to the creator are dropped.
func (d *Directory) CreateGroup(ctx context.Context, name string, creatorID int, memberIDs []int) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, validationf("group name is required")
	}
	if creatorID <= 0 {
		return models.Conversation{}, validationf("creator id must be positive")
	}

	members := uniqueIDs(memberIDs, creatorID)
	if len(members) < 2 {
		return models.Conversation{}, validationf("a group needs at least 2 members besides the creator")
	}

	conv, err := d.convs.CreateGroup(ctx, name, creatorID, members)
	if err != nil {
		return models.Conversation{}, transient("create group", err)
	}

	d.logger.Info("group created", zap.Int("conversation_id", conv.ID), zap.Int("user_id", creatorID), zap.Int("members", len(members)))
	d.audit.Emit(ctx, telemetry.AuditRecord{
		Action:         models.ActionGroupCreated,
		ActorID:        creatorID,
		ConversationID: conv.ID,
		Subjects:       members,
		Text:           name,
	})
	return conv, nil
}

// AddMembers adds the given users to a group. Ids already participating are ignored.
func (d *Directory) AddMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error) {
	conv, err := d.managedGroup(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	candidates := uniqueIDs(userIDs, 0)
	if len(candidates) == 0 {
		return []int{}, nil
	}

	added, err := d.convs.AddParticipants(ctx, conversationID, candidates, d.now())
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return nil, notFound("conversation not found")
	}
	if err != nil {
		return nil, transient("add members", err)
	}
	if len(added) == 0 {
		return added, nil
	}

	d.publishUpdate(conv, models.ActionMembersAdded, added)
	d.audit.Emit(ctx, telemetry.AuditRecord{
		Action:         models.ActionMembersAdded,
		ActorID:        actorID,
		ConversationID: conversationID,
		Subjects:       added,
	})
	return added, nil
}

// RemoveMembers removes users from a group. The creator is never removed; removing
// anyone other than oneself requires the admin role.
func (d *Directory) RemoveMembers(ctx context.Context, actorID, conversationID int, userIDs []int) ([]int, error) {
	conv, err := d.managedGroup(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	targets := make([]int, 0, len(userIDs))
	othersTargeted := false
	for _, id := range uniqueIDs(userIDs, 0) {
		if conv.IsCreator(id) {
			continue
		}
		if id != actorID {
			othersTargeted = true
		}
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return []int{}, nil
	}

	if othersTargeted {
		actor, err := d.convs.GetParticipant(ctx, conversationID, actorID)
		if err != nil {
			return nil, transient("load participant", err)
		}
		if actor.Role != models.RoleAdmin {
			return nil, forbidden("only admins can remove other members")
		}
	}

	removed, err := d.convs.RemoveParticipants(ctx, conversationID, targets)
	if err != nil {
		return nil, transient("remove members", err)
	}
	if len(removed) == 0 {
		return removed, nil
	}

	// Announce before unsubscribing so the removed sessions learn about it too.
	d.publishUpdate(conv, models.ActionMembersRemoved, removed)
	d.fanout.Unsubscribe(conversationID, removed)
	d.audit.Emit(ctx, telemetry.AuditRecord{
		Level:          "WARN",
		Action:         models.ActionMembersRemoved,
		ActorID:        actorID,
		ConversationID: conversationID,
		Subjects:       removed,
	})
	return removed, nil
}

func (d *Directory) RenameGroup(ctx context.Context, actorID, conversationID int, name string) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, validationf("group name is required")
	}
	if _, err := d.managedGroup(ctx, conversationID, actorID); err != nil {
		return models.Conversation{}, err
	}

	conv, err := d.convs.Rename(ctx, conversationID, name)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, notFound("conversation not found")
	}
	if err != nil {
		return models.Conversation{}, transient("rename group", err)
	}

	d.publishUpdate(conv, models.ActionRenamed, nil)
	d.audit.Emit(ctx, telemetry.AuditRecord{
		Action:         models.ActionRenamed,
		ActorID:        actorID,
		ConversationID: conversationID,
		Text:           name,
	})
	return conv, nil
}

// Participants lists the members of a conversation the requester belongs to.
func (d *Directory) Participants(ctx context.Context, requesterID, conversationID int) ([]models.Participant, error) {
	if _, err := authorize(ctx, d.convs, conversationID, requesterID); err != nil {
		return nil, err
	}
	ps, err := d.convs.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, transient("list participants", err)
	}
	return ps, nil
}

// CheckMember returns nil when userID participates in the conversation.
func (d *Directory) CheckMember(ctx context.Context, conversationID, userID int) error {
	_, err := authorize(ctx, d.convs, conversationID, userID)
	return err
}

func (d *Directory) managedGroup(ctx context.Context, conversationID, actorID int) (models.Conversation, error) {
	conv, err := authorize(ctx, d.convs, conversationID, actorID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.Kind != models.KindGroup {
		return models.Conversation{}, validationf("private conversations have fixed membership")
	}
	return conv, nil
}

func (d *Directory) publishUpdate(conv models.Conversation, action string, userIDs []int) {
	env, ok := envelope(d.logger, models.EventConversationUpdated, models.ConversationUpdated{
		Conversation: conv,
		Action:       action,
		UserIDs:      userIDs,
	})
	if !ok {
		return
	}
	d.fanout.BroadcastToConversation(conv.ID, env, Skip{})
}

// uniqueIDs drops duplicates, non-positive ids and exclude, keeping first-seen order.
func uniqueIDs(ids []int, exclude int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
