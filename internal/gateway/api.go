// ABOUTME: HTTP API for health checks and group membership changes
// ABOUTME: Membership handlers update the store, then let the hub bring presence and clients up to date

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// CreateGroupRequest is the body of POST /api/groups.
type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

// GroupResponse describes a group and its members.
type GroupResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []string  `json:"members"`
}

// AddMemberRequest is the body of POST /api/groups/{groupID}/members.
type AddMemberRequest struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// ReadyResponse is the body of GET /health/ready.
type ReadyResponse struct {
	Status        string         `json:"status"`
	Presence      presence.Stats `json:"presence"`
	Sockets       int            `json:"sockets"`
	FanoutDropped uint64         `json:"fanoutDropped"`
	DedupeEntries int            `json:"dedupeEntries"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// httpStatus maps an error kind onto an HTTP status code.
func httpStatus(kind chaterr.Kind) int {
	switch kind {
	case chaterr.KindAuthentication:
		return http.StatusUnauthorized
	case chaterr.KindValidation:
		return http.StatusBadRequest
	case chaterr.KindNotFound:
		return http.StatusNotFound
	case chaterr.KindForbidden:
		return http.StatusForbidden
	case chaterr.KindCapacity, chaterr.KindRaceOutcome:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := chaterr.KindOf(err)
	msg := err.Error()
	if kind == chaterr.KindInternal {
		g.logger.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, httpStatus(kind), map[string]string{"error": msg, "kind": string(kind)})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports presence, fanout and dedupe counters.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ReadyResponse{
		Status:        "ready",
		Presence:      g.registry.Stats(),
		Sockets:       g.sockets.count(),
		FanoutDropped: g.notifier.Dropped(),
		DedupeEntries: g.dedupe.Len(),
	})
}

// requireGroupAdmin loads the group and checks the caller administers it.
func (g *Gateway) requireGroupAdmin(r *http.Request, groupID, userID string) (*store.Group, error) {
	group, err := g.store.GetGroup(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, chaterr.NotFound("group %s not found", groupID)
		}
		return nil, fmt.Errorf("getting group: %w", err)
	}
	admin, err := g.store.IsAdmin(r.Context(), groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("checking admin: %w", err)
	}
	if !admin {
		return nil, chaterr.Forbidden("only group admins can do this")
	}
	return group, nil
}

// addMember stores a membership and lets the hub announce it.
func (g *Gateway) addMember(r *http.Request, groupID, userID string, isAdmin bool) error {
	if _, err := g.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chaterr.NotFound("user %s not found", userID)
		}
		return fmt.Errorf("getting user: %w", err)
	}

	err := g.store.AddGroupMember(r.Context(), &store.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		IsAdmin:  isAdmin,
		JoinedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, store.ErrDuplicateMember):
		return chaterr.Validation("user %s is already a member", userID)
	case errors.Is(err, store.ErrNotFound):
		return chaterr.NotFound("group %s not found", groupID)
	case err != nil:
		return fmt.Errorf("adding member: %w", err)
	}

	return g.hub.MemberJoined(r.Context(), groupID, userID)
}

// handleCreateGroup creates a group administered by the caller.
func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	group := &store.Group{
		ID:        uuid.New().String(),
		Name:      req.Name,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.CreateGroup(r.Context(), group); err != nil {
		g.writeError(w, r, fmt.Errorf("creating group: %w", err))
		return
	}

	members := []string{userID}
	if err := g.addMember(r, group.ID, userID, true); err != nil {
		g.writeError(w, r, err)
		return
	}
	for _, memberID := range req.Members {
		if memberID == userID {
			continue
		}
		if err := g.addMember(r, group.ID, memberID, false); err != nil {
			g.writeError(w, r, err)
			return
		}
		members = append(members, memberID)
	}

	g.logger.Info("group created", "group_id", group.ID, "created_by", userID, "members", len(members))
	writeJSON(w, http.StatusCreated, GroupResponse{
		ID:        group.ID,
		Name:      group.Name,
		CreatedBy: group.CreatedBy,
		CreatedAt: group.CreatedAt,
		Members:   members,
	})
}

// handleDeleteGroup deletes a group and clears its live channel.
func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())
	groupID := r.PathValue("groupID")

	if _, err := g.requireGroupAdmin(r, groupID, userID); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.store.DeleteGroup(r.Context(), groupID); err != nil {
		g.writeError(w, r, fmt.Errorf("deleting group: %w", err))
		return
	}
	if err := g.hub.ChannelDeleted(r.Context(), groupID); err != nil {
		g.writeError(w, r, err)
		return
	}

	g.logger.Info("group deleted", "group_id", groupID, "deleted_by", userID)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMember adds a user to a group. Only admins may add members.
func (g *Gateway) handleAddMember(w http.ResponseWriter, r *http.Request) {
	userID := auth.MustUserFromContext(r.Context())
	groupID := r.PathValue("groupID")

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := g.requireGroupAdmin(r, groupID, userID); err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.addMember(r, groupID, req.UserID, req.IsAdmin); err != nil {
		g.writeError(w, r, err)
		return
	}

	count, err := g.store.CountMembers(r.Context(), groupID)
	if err != nil {
		g.writeError(w, r, fmt.Errorf("counting members: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"groupId": groupID, "userId": req.UserID, "memberCount": count})
}

// handleRemoveMember removes a user from a group. Admins may remove anyone;
// members may remove themselves.
func (g *Gateway) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actorID := auth.MustUserFromContext(r.Context())
	groupID := r.PathValue("groupID")
	targetID := r.PathValue("userID")

	if actorID != targetID {
		if _, err := g.requireGroupAdmin(r, groupID, actorID); err != nil {
			g.writeError(w, r, err)
			return
		}
	}

	if err := g.store.RemoveGroupMember(r.Context(), groupID, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.writeError(w, r, chaterr.NotFound("user %s is not a member of %s", targetID, groupID))
			return
		}
		g.writeError(w, r, fmt.Errorf("removing member: %w", err))
		return
	}
	if err := g.hub.MemberLeft(r.Context(), groupID, targetID, actorID); err != nil {
		g.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
