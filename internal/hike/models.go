package hike

import "time"

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"

	RoleAdmin  = "admin"
	RoleMember = "member"

	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	IntensityEasy = "easy"

	defaultMaxPeople = 10
)

// Hike is the representation served to a particular viewer. The trailing
// fields are relative to that viewer and stay false/nil for anonymous callers.
type Hike struct {
	ID              string     `json:"id"`
	CreatorID       string     `json:"creator"`
	CreatorUsername string     `json:"creator_username"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	LocationName    string     `json:"location_name"`
	MeetLat         *float64   `json:"meet_lat"`
	MeetLng         *float64   `json:"meet_lng"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Intensity       string     `json:"intensity"`
	MaxPeople       int        `json:"max_people"`
	Visibility      string     `json:"visibility"`
	ItemsToCarry    string     `json:"items_to_carry"`
	Itinerary       string     `json:"itinerary"`
	CreatedAt       time.Time  `json:"created_at"`
	MemberCount     int        `json:"member_count"`

	IsMember          bool    `json:"is_member"`
	IsAdmin           bool    `json:"is_admin"`
	JoinRequestStatus *string `json:"join_request_status"`
}

// HikeInput is the writable part of a hike. PUT replaces it whole, PATCH
// overlays the request body on the stored values.
type HikeInput struct {
	Title        string     `json:"title" validate:"required,max=120"`
	Description  string     `json:"description"`
	LocationName string     `json:"location_name" validate:"required,max=200"`
	MeetLat      *float64   `json:"meet_lat" validate:"omitempty,gte=-90,lte=90"`
	MeetLng      *float64   `json:"meet_lng" validate:"omitempty,gte=-180,lte=180"`
	StartTime    *time.Time `json:"start_time" validate:"required"`
	EndTime      *time.Time `json:"end_time"`
	Intensity    string     `json:"intensity" validate:"oneof=easy medium hard"`
	MaxPeople    *int       `json:"max_people" validate:"omitempty,gt=0"`
	Visibility   string     `json:"visibility" validate:"oneof=public private"`
	ItemsToCarry string     `json:"items_to_carry"`
	Itinerary    string     `json:"itinerary"`
}

func (in *HikeInput) applyDefaults() {
	if in.Intensity == "" {
		in.Intensity = IntensityEasy
	}
	if in.Visibility == "" {
		in.Visibility = VisibilityPublic
	}
	if in.MaxPeople == nil {
		n := defaultMaxPeople
		in.MaxPeople = &n
	}
}

func (h Hike) input() HikeInput {
	start := h.StartTime
	maxPeople := h.MaxPeople
	return HikeInput{
		Title:        h.Title,
		Description:  h.Description,
		LocationName: h.LocationName,
		MeetLat:      h.MeetLat,
		MeetLng:      h.MeetLng,
		StartTime:    &start,
		EndTime:      h.EndTime,
		Intensity:    h.Intensity,
		MaxPeople:    &maxPeople,
		Visibility:   h.Visibility,
		ItemsToCarry: h.ItemsToCarry,
		Itinerary:    h.Itinerary,
	}
}

func (h *Hike) apply(in HikeInput) {
	h.Title = in.Title
	h.Description = in.Description
	h.LocationName = in.LocationName
	h.MeetLat = in.MeetLat
	h.MeetLng = in.MeetLng
	h.StartTime = *in.StartTime
	h.EndTime = in.EndTime
	h.Intensity = in.Intensity
	h.MaxPeople = *in.MaxPeople
	h.Visibility = in.Visibility
	h.ItemsToCarry = in.ItemsToCarry
	h.Itinerary = in.Itinerary
}

type Membership struct {
	HikeID   string    `json:"hike"`
	UserID   string    `json:"user"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type JoinRequest struct {
	ID           string    `json:"id"`
	HikeID       string    `json:"hike"`
	UserID       string    `json:"user"`
	UserUsername string    `json:"user_username"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// JoinResult tells which track a join took: a direct membership on public
// hikes or a pending request on private ones.
type JoinResult struct {
	Membership *Membership
	Request    *JoinRequest
}
