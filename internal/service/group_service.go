package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/splitledger/core/internal/events"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

// GroupService manages Group lifecycle (create, add members, soft-delete)
// and emits the group_created/member_added/group_deleted activity events
// spec.md §4.10 lists but leaves untriggered — group management sits
// outside the numbered C1-C12 core, so it's the natural home for them.
type GroupService struct {
	store   storage.GroupStore
	emitter *events.Emitter
}

// NewGroupService wires a GroupService over store, emitting through emitter.
func NewGroupService(store storage.GroupStore, emitter *events.Emitter) *GroupService {
	return &GroupService{store: store, emitter: emitter}
}

// CreateGroup persists a new Group and emits group_created.
func (s *GroupService) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (*models.Group, error) {
	slog.Info("creating group", "name", name, "creator", creatorID, "members", len(memberIDs))

	members := make(map[string]struct{}, len(memberIDs)+1)
	members[creatorID] = struct{}{}
	for _, m := range memberIDs {
		members[m] = struct{}{}
	}

	group := &models.Group{ID: uuid.New().String(), Name: name, Members: members, CreatorID: creatorID}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, models.ActivityEvent{Type: models.EventGroupCreated, UserID: creatorID, Scope: group.ID})
	return group, nil
}

// AddMembers appends userIDs to group and emits one member_added event per
// user added.
func (s *GroupService) AddMembers(ctx context.Context, groupID string, userIDs []string) error {
	if err := s.store.AddMembers(ctx, groupID, userIDs); err != nil {
		return err
	}
	for _, u := range userIDs {
		s.emitter.Emit(ctx, models.ActivityEvent{Type: models.EventMemberAdded, UserID: u, Scope: groupID})
	}
	return nil
}

// DeleteGroup soft-deletes group (creator-only, enforced by the store) and
// emits group_deleted.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, byUserID string) error {
	if err := s.store.SoftDelete(ctx, groupID, byUserID); err != nil {
		return fmt.Errorf("delete group %s: %w", groupID, err)
	}
	s.emitter.Emit(ctx, models.ActivityEvent{Type: models.EventGroupDeleted, UserID: byUserID, Scope: groupID})
	return nil
}
