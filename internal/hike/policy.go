package hike

import "context"

// IsAdmin reports whether userID holds the admin role on hikeID. Anonymous
// callers are never admins.
func (s *Service) IsAdmin(ctx context.Context, hikeID, userID string) (bool, error) {
	role, err := s.roleOf(ctx, hikeID, userID)
	return role == RoleAdmin, err
}

// IsMember reports whether userID holds any membership on hikeID.
func (s *Service) IsMember(ctx context.Context, hikeID, userID string) (bool, error) {
	role, err := s.roleOf(ctx, hikeID, userID)
	return role != "", err
}

func (s *Service) roleOf(ctx context.Context, hikeID, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	return store{s.pool}.role(ctx, hikeID, userID)
}
