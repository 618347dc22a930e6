package hike

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/db"
)

// store runs the hike queries against a pool or an open transaction.
type store struct {
	q db.Querier
}

// hikeSelect joins the viewer's membership and join request so the derived
// fields come back with the row. $1 is the viewer, NULL when anonymous.
const hikeSelect = `
	SELECT h.id, h.creator_id, u.username, h.title, h.description, h.location_name,
		h.meet_lat, h.meet_lng, h.start_time, h.end_time, h.intensity, h.max_people,
		h.visibility, h.items_to_carry, h.itinerary, h.created_at,
		(SELECT COUNT(*) FROM hike_memberships mc WHERE mc.hike_id = h.id) AS member_count,
		COALESCE(m.role, '') AS viewer_role,
		COALESCE(jr.status, '') AS viewer_request
	FROM hikes h
	JOIN users u ON u.id = h.creator_id
	LEFT JOIN hike_memberships m ON m.hike_id = h.id AND m.user_id = $1
	LEFT JOIN join_requests jr ON jr.hike_id = h.id AND jr.user_id = $1`

const visibleToViewer = `(h.visibility = 'public' OR m.user_id IS NOT NULL)`

var errHikeNotFound = apperr.NotFound("Not found.")

func viewerArg(viewer string) any {
	if viewer == "" {
		return nil
	}
	return viewer
}

func scanHike(row pgx.Row) (Hike, error) {
	var h Hike
	var role, requestStatus string
	err := row.Scan(&h.ID, &h.CreatorID, &h.CreatorUsername, &h.Title, &h.Description, &h.LocationName,
		&h.MeetLat, &h.MeetLng, &h.StartTime, &h.EndTime, &h.Intensity, &h.MaxPeople,
		&h.Visibility, &h.ItemsToCarry, &h.Itinerary, &h.CreatedAt,
		&h.MemberCount, &role, &requestStatus)
	if err != nil {
		return Hike{}, err
	}
	h.IsMember = role != ""
	h.IsAdmin = role == RoleAdmin
	if requestStatus != "" {
		h.JoinRequestStatus = &requestStatus
	}
	return h, nil
}

func (s store) listHikes(ctx context.Context, viewer string, mineOnly bool) ([]Hike, error) {
	filter := visibleToViewer
	if mineOnly {
		filter = `m.user_id IS NOT NULL`
	}
	rows, err := s.q.Query(ctx, hikeSelect+`
	WHERE `+filter+`
	ORDER BY h.created_at DESC`, viewerArg(viewer))
	if err != nil {
		return nil, fmt.Errorf("list hikes: %w", err)
	}
	defer rows.Close()

	hikes := make([]Hike, 0)
	for rows.Next() {
		h, err := scanHike(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hike: %w", err)
		}
		hikes = append(hikes, h)
	}
	return hikes, rows.Err()
}

// visibleHike loads a hike through the visibility filter, so a private hike
// outside the viewer's memberships looks exactly like a missing one.
func (s store) visibleHike(ctx context.Context, viewer, id string) (Hike, error) {
	return s.oneHike(ctx, hikeSelect+`
	WHERE h.id = $2 AND `+visibleToViewer, viewer, id)
}

// anyHike loads a hike regardless of visibility. Only the join track uses it:
// private hikes are reached through shared links by people who are not
// members yet.
func (s store) anyHike(ctx context.Context, viewer, id string) (Hike, error) {
	return s.oneHike(ctx, hikeSelect+`
	WHERE h.id = $2`, viewer, id)
}

func (s store) oneHike(ctx context.Context, query, viewer, id string) (Hike, error) {
	h, err := scanHike(s.q.QueryRow(ctx, query, viewerArg(viewer), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Hike{}, errHikeNotFound
	}
	if err != nil {
		return Hike{}, fmt.Errorf("load hike: %w", err)
	}
	return h, nil
}

func (s store) insertHike(ctx context.Context, h *Hike) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO hikes (id, creator_id, title, description, location_name, meet_lat, meet_lng,
			start_time, end_time, intensity, max_people, visibility, items_to_carry, itinerary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, (SELECT username FROM users WHERE id = $2)
	`, h.ID, h.CreatorID, h.Title, h.Description, h.LocationName, h.MeetLat, h.MeetLng,
		h.StartTime, h.EndTime, h.Intensity, h.MaxPeople, h.Visibility, h.ItemsToCarry, h.Itinerary)
	if err := row.Scan(&h.CreatedAt, &h.CreatorUsername); err != nil {
		return fmt.Errorf("insert hike: %w", err)
	}
	return nil
}

func (s store) updateHike(ctx context.Context, h Hike) error {
	_, err := s.q.Exec(ctx, `
		UPDATE hikes
		SET title=$2, description=$3, location_name=$4, meet_lat=$5, meet_lng=$6, start_time=$7,
			end_time=$8, intensity=$9, max_people=$10, visibility=$11, items_to_carry=$12, itinerary=$13
		WHERE id=$1
	`, h.ID, h.Title, h.Description, h.LocationName, h.MeetLat, h.MeetLng, h.StartTime,
		h.EndTime, h.Intensity, h.MaxPeople, h.Visibility, h.ItemsToCarry, h.Itinerary)
	if err != nil {
		return fmt.Errorf("update hike: %w", err)
	}
	return nil
}

// deleteHike removes the hike; memberships and join requests go with it
// through ON DELETE CASCADE.
func (s store) deleteHike(ctx context.Context, id string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM hikes WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete hike: %w", err)
	}
	return nil
}

// lockHike serializes membership changes on one hike for the rest of the
// transaction and returns its max_people as of the lock.
func (s store) lockHike(ctx context.Context, id string) (int, error) {
	var maxPeople int
	err := s.q.QueryRow(ctx, `SELECT max_people FROM hikes WHERE id = $1 FOR UPDATE`, id).Scan(&maxPeople)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errHikeNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock hike: %w", err)
	}
	return maxPeople, nil
}

// role returns the user's role on the hike, "" when there is no membership.
func (s store) role(ctx context.Context, hikeID, userID string) (string, error) {
	var role string
	err := s.q.QueryRow(ctx, `SELECT role FROM hike_memberships WHERE hike_id = $1 AND user_id = $2`, hikeID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load membership: %w", err)
	}
	return role, nil
}

// insertMembership adds the membership unless one already exists. The
// returned bool is false when the row was already there, whatever its role.
func (s store) insertMembership(ctx context.Context, hikeID, userID, role string) (Membership, bool, error) {
	m := Membership{HikeID: hikeID, UserID: userID, Role: role}
	err := s.q.QueryRow(ctx, `
		INSERT INTO hike_memberships (hike_id, user_id, role)
		VALUES ($1,$2,$3)
		ON CONFLICT (hike_id, user_id) DO NOTHING
		RETURNING joined_at
	`, hikeID, userID, role).Scan(&m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, false, nil
	}
	if err != nil {
		return Membership{}, false, fmt.Errorf("insert membership: %w", err)
	}
	return m, true, nil
}

func (s store) deleteMembership(ctx context.Context, hikeID, userID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM hike_memberships WHERE hike_id = $1 AND user_id = $2`, hikeID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete membership: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s store) setRole(ctx context.Context, hikeID, userID, role string) error {
	if _, err := s.q.Exec(ctx, `UPDATE hike_memberships SET role = $3 WHERE hike_id = $1 AND user_id = $2`, hikeID, userID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// otherAdmins counts the admins of the hike other than userID.
func (s store) otherAdmins(ctx context.Context, hikeID, userID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM hike_memberships
		WHERE hike_id = $1 AND role = 'admin' AND user_id <> $2
	`, hikeID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (s store) memberCount(ctx context.Context, hikeID string) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM hike_memberships WHERE hike_id = $1`, hikeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (s store) members(ctx context.Context, hikeID string) ([]Membership, error) {
	rows, err := s.q.Query(ctx, `
		SELECT m.hike_id, m.user_id, u.username, m.role, m.joined_at
		FROM hike_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.hike_id = $1
		ORDER BY m.joined_at
	`, hikeID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.HikeID, &m.UserID, &m.Username, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// submitRequest creates the user's join request or resets a resolved one to
// pending. ok is false when a pending request already exists.
func (s store) submitRequest(ctx context.Context, id, hikeID, userID string) (JoinRequest, bool, error) {
	jr := JoinRequest{HikeID: hikeID, UserID: userID}
	err := s.q.QueryRow(ctx, `
		INSERT INTO join_requests (id, hike_id, user_id, status)
		VALUES ($1,$2,$3,'pending')
		ON CONFLICT (hike_id, user_id) DO UPDATE SET status = 'pending'
		WHERE join_requests.status <> 'pending'
		RETURNING id, status, created_at
	`, id, hikeID, userID).Scan(&jr.ID, &jr.Status, &jr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return JoinRequest{}, false, nil
	}
	if err != nil {
		return JoinRequest{}, false, fmt.Errorf("submit join request: %w", err)
	}
	return jr, true, nil
}

func (s store) requests(ctx context.Context, hikeID string) ([]JoinRequest, error) {
	rows, err := s.q.Query(ctx, `
		SELECT jr.id, jr.hike_id, jr.user_id, u.username, jr.status, jr.created_at
		FROM join_requests jr
		JOIN users u ON u.id = jr.user_id
		WHERE jr.hike_id = $1
		ORDER BY jr.created_at DESC
	`, hikeID)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()

	requests := make([]JoinRequest, 0)
	for rows.Next() {
		var jr JoinRequest
		if err := rows.Scan(&jr.ID, &jr.HikeID, &jr.UserID, &jr.UserUsername, &jr.Status, &jr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		requests = append(requests, jr)
	}
	return requests, rows.Err()
}

// resolveRequest sets the status of a request of this hike and returns the
// requesting user.
func (s store) resolveRequest(ctx context.Context, hikeID, requestID, status string) (string, error) {
	var userID string
	err := s.q.QueryRow(ctx, `
		UPDATE join_requests SET status = $3
		WHERE id = $1 AND hike_id = $2
		RETURNING user_id
	`, requestID, hikeID, status).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errRequestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve join request: %w", err)
	}
	return userID, nil
}

func (s store) deletePendingRequest(ctx context.Context, hikeID, userID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM join_requests
		WHERE hike_id = $1 AND user_id = $2 AND status = 'pending'
	`, hikeID, userID)
	if err != nil {
		return 0, fmt.Errorf("cancel join request: %w", err)
	}
	return tag.RowsAffected(), nil
}
