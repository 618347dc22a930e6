package hike

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/db"
	"github.com/r15huu/HikeMates/internal/logger"
	"github.com/r15huu/HikeMates/internal/metrics"
)

var (
	errAuthRequired      = apperr.Unauthenticated("Authentication credentials were not provided.")
	errAdminOnly         = apperr.Forbidden("Admin only.")
	errAlreadyJoined     = apperr.Conflict("Already joined.")
	errAlreadyPending    = apperr.Conflict("Join request already pending.")
	errHikeFull          = apperr.Conflict("Hike is full.")
	errNotMember         = apperr.Conflict("You are not a member.")
	errLastAdminLeave    = apperr.Conflict("You are the last admin. Assign another admin before leaving.")
	errLastAdminRemove   = apperr.Conflict("You are the last admin; cannot remove yourself.")
	errLastAdminDemote   = apperr.Conflict("A hike must keep at least one admin.")
	errNoPendingRequest  = apperr.Conflict("No pending join request to cancel.")
	errRequestIDRequired = apperr.Validation("request_id is required")
	errUserIDRequired    = apperr.Validation("user_id is required")
	errInvalidRole       = apperr.Validation("role must be admin or member")
	errRequestNotFound   = apperr.NotFound("Join request not found.")
	errUserNotMember     = apperr.NotFound("User is not a member.")
)

type Config struct {
	// EnforceCapacity makes max_people a hard limit for public joins and
	// approvals. Off, max_people is informational.
	EnforceCapacity bool
	Logger          logrus.FieldLogger
	Metrics         *metrics.Metrics
}

type Service struct {
	pool            db.Pool
	log             logrus.FieldLogger
	metrics         *metrics.Metrics
	validate        *validator.Validate
	enforceCapacity bool
}

func NewService(pool db.Pool, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		pool:            pool,
		log:             log,
		metrics:         cfg.Metrics,
		validate:        v,
		enforceCapacity: cfg.EnforceCapacity,
	}
}

func (s *Service) track(op string, errp *error) {
	s.metrics.ObserveOp(op, *errp)
}

func (s *Service) logOp(op, hikeID, userID string) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{"op": op, "hike_id": hikeID, "user_id": userID})
}

func requireCaller(caller string) error {
	if caller == "" {
		return errAuthRequired
	}
	return nil
}

// parseHikeID rejects malformed ids the same way as unknown ones.
func parseHikeID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errHikeNotFound
	}
	return nil
}

func (s *Service) List(ctx context.Context, caller string) ([]Hike, error) {
	return store{s.pool}.listHikes(ctx, caller, false)
}

// Mine lists the hikes where the caller holds any membership, created ones
// included.
func (s *Service) Mine(ctx context.Context, caller string) ([]Hike, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return store{s.pool}.listHikes(ctx, caller, true)
}

func (s *Service) Get(ctx context.Context, caller, id string) (Hike, error) {
	if err := parseHikeID(id); err != nil {
		return Hike{}, err
	}
	return store{s.pool}.visibleHike(ctx, caller, id)
}

// Members lists the memberships of a visible hike, oldest first.
func (s *Service) Members(ctx context.Context, caller, id string) ([]Membership, error) {
	h, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return store{s.pool}.members(ctx, h.ID)
}

// adminHike resolves a visible hike and requires the caller to administer it.
func (s *Service) adminHike(ctx context.Context, caller, id string) (Hike, error) {
	if err := requireCaller(caller); err != nil {
		return Hike{}, err
	}
	h, err := s.Get(ctx, caller, id)
	if err != nil {
		return Hike{}, err
	}
	admin, err := s.IsAdmin(ctx, h.ID, caller)
	if err != nil {
		return Hike{}, err
	}
	if !admin {
		return Hike{}, errAdminOnly
	}
	return h, nil
}

// lockAdmin locks the hike row, then re-checks that the caller is still an
// admin. Role changes committed after adminHike ran are seen here.
func lockAdmin(ctx context.Context, st store, hikeID, caller string) (int, error) {
	maxPeople, err := st.lockHike(ctx, hikeID)
	if err != nil {
		return 0, err
	}
	role, err := st.role(ctx, hikeID, caller)
	if err != nil {
		return 0, err
	}
	if role != RoleAdmin {
		return 0, errAdminOnly
	}
	return maxPeople, nil
}

func (s *Service) validateInput(in *HikeInput) error {
	in.applyDefaults()
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return apperr.Wrap(err, apperr.KindValidation, fieldMessage(fieldErrs[0]))
		}
		return apperr.Wrap(err, apperr.KindValidation, "invalid payload")
	}
	if in.EndTime != nil && !in.EndTime.After(*in.StartTime) {
		return apperr.Validation("end_time: must be after start_time")
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: this field is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s: ensure this field has no more than %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s: must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s: invalid value", fe.Field())
	}
}

// Create stores the hike and makes the caller its first admin in one
// transaction.
func (s *Service) Create(ctx context.Context, caller string, in HikeInput) (h Hike, err error) {
	defer s.track("create", &err)
	if err = requireCaller(caller); err != nil {
		return Hike{}, err
	}
	if err = s.validateInput(&in); err != nil {
		return Hike{}, err
	}

	h = Hike{ID: uuid.NewString(), CreatorID: caller}
	h.apply(in)
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		if err := st.insertHike(ctx, &h); err != nil {
			return err
		}
		_, _, err := st.insertMembership(ctx, h.ID, caller, RoleAdmin)
		return err
	})
	if err != nil {
		return Hike{}, err
	}

	h.MemberCount = 1
	h.IsMember = true
	h.IsAdmin = true
	s.logOp("create", h.ID, caller).Info("hike created")
	return h, nil
}

// Update replaces every writable field of the hike.
func (s *Service) Update(ctx context.Context, caller, id string, in HikeInput) (h Hike, err error) {
	defer s.track("update", &err)
	h, err = s.adminHike(ctx, caller, id)
	if err != nil {
		return Hike{}, err
	}
	return s.save(ctx, caller, h, in)
}

// Patch lets decode overlay the request on the stored fields, then validates
// the result as a whole.
func (s *Service) Patch(ctx context.Context, caller, id string, decode func(*HikeInput) error) (h Hike, err error) {
	defer s.track("update", &err)
	h, err = s.adminHike(ctx, caller, id)
	if err != nil {
		return Hike{}, err
	}
	in := h.input()
	if err = decode(&in); err != nil {
		return Hike{}, apperr.Wrap(err, apperr.KindValidation, "invalid payload")
	}
	return s.save(ctx, caller, h, in)
}

func (s *Service) save(ctx context.Context, caller string, h Hike, in HikeInput) (Hike, error) {
	if err := s.validateInput(&in); err != nil {
		return Hike{}, err
	}
	h.apply(in)
	if err := (store{s.pool}).updateHike(ctx, h); err != nil {
		return Hike{}, err
	}
	s.logOp("update", h.ID, caller).Info("hike updated")
	return h, nil
}

func (s *Service) Delete(ctx context.Context, caller, id string) (err error) {
	defer s.track("delete", &err)
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return err
	}
	if err = (store{s.pool}).deleteHike(ctx, h.ID); err != nil {
		return err
	}
	s.logOp("delete", h.ID, caller).Info("hike deleted")
	return nil
}

// Join adds the caller to a public hike or files a join request on a private
// one. The hike is resolved without the visibility filter.
func (s *Service) Join(ctx context.Context, caller, id string) (res JoinResult, err error) {
	defer s.track("join", &err)
	if err = requireCaller(caller); err != nil {
		return JoinResult{}, err
	}
	if err = parseHikeID(id); err != nil {
		return JoinResult{}, err
	}
	h, err := store{s.pool}.anyHike(ctx, caller, id)
	if err != nil {
		return JoinResult{}, err
	}
	if h.IsMember {
		return JoinResult{}, errAlreadyJoined
	}

	if h.Visibility == VisibilityPublic {
		m, err := s.joinPublic(ctx, h.ID, caller)
		if err != nil {
			return JoinResult{}, err
		}
		s.logOp("join", h.ID, caller).Info("joined public hike")
		return JoinResult{Membership: &m}, nil
	}

	jr, ok, err := store{s.pool}.submitRequest(ctx, uuid.NewString(), h.ID, caller)
	if err != nil {
		return JoinResult{}, err
	}
	if !ok {
		return JoinResult{}, errAlreadyPending
	}
	s.logOp("join", h.ID, caller).WithField("request_id", jr.ID).Info("join request submitted")
	return JoinResult{Request: &jr}, nil
}

func (s *Service) joinPublic(ctx context.Context, hikeID, caller string) (Membership, error) {
	if !s.enforceCapacity {
		m, ok, err := store{s.pool}.insertMembership(ctx, hikeID, caller, RoleMember)
		if err != nil {
			return Membership{}, err
		}
		if !ok {
			return Membership{}, errAlreadyJoined
		}
		return m, nil
	}

	var m Membership
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		maxPeople, err := st.lockHike(ctx, hikeID)
		if err != nil {
			return err
		}
		if err := checkCapacity(ctx, st, hikeID, maxPeople); err != nil {
			return err
		}
		var ok bool
		m, ok, err = st.insertMembership(ctx, hikeID, caller, RoleMember)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyJoined
		}
		return nil
	})
	return m, err
}

func checkCapacity(ctx context.Context, st store, hikeID string, maxPeople int) error {
	n, err := st.memberCount(ctx, hikeID)
	if err != nil {
		return err
	}
	if n >= maxPeople {
		return errHikeFull
	}
	return nil
}

// Leave drops the caller's membership. The last admin cannot leave.
func (s *Service) Leave(ctx context.Context, caller, id string) (err error) {
	defer s.track("leave", &err)
	if err = requireCaller(caller); err != nil {
		return err
	}
	h, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		if _, err := st.lockHike(ctx, h.ID); err != nil {
			return err
		}
		role, err := st.role(ctx, h.ID, caller)
		if err != nil {
			return err
		}
		if role == "" {
			return errNotMember
		}
		if role == RoleAdmin {
			others, err := st.otherAdmins(ctx, h.ID, caller)
			if err != nil {
				return err
			}
			if others == 0 {
				return errLastAdminLeave
			}
		}
		_, err = st.deleteMembership(ctx, h.ID, caller)
		return err
	})
	if err != nil {
		return err
	}
	s.logOp("leave", h.ID, caller).Info("member left hike")
	return nil
}

// CancelRequest withdraws the caller's pending join request by deleting it.
func (s *Service) CancelRequest(ctx context.Context, caller, id string) (err error) {
	defer s.track("cancel_request", &err)
	if err = requireCaller(caller); err != nil {
		return err
	}
	if err = parseHikeID(id); err != nil {
		return err
	}
	st := store{s.pool}
	h, err := st.anyHike(ctx, caller, id)
	if err != nil {
		return err
	}
	deleted, err := st.deletePendingRequest(ctx, h.ID, caller)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return errNoPendingRequest
	}
	s.logOp("cancel_request", h.ID, caller).Info("join request cancelled")
	return nil
}

// JoinRequests lists every request of the hike, newest first.
func (s *Service) JoinRequests(ctx context.Context, caller, id string) ([]JoinRequest, error) {
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return store{s.pool}.requests(ctx, h.ID)
}

// ApproveRequest marks the request approved and makes its author a member.
// An existing membership is left untouched, so approving twice or approving
// an admin's stale request changes nothing.
func (s *Service) ApproveRequest(ctx context.Context, caller, id, requestID string) (err error) {
	defer s.track("approve_request", &err)
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return err
	}
	if requestID == "" {
		return errRequestIDRequired
	}
	if _, perr := uuid.Parse(requestID); perr != nil {
		return errRequestNotFound
	}

	var userID string
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		maxPeople, err := lockAdmin(ctx, st, h.ID, caller)
		if err != nil {
			return err
		}
		userID, err = st.resolveRequest(ctx, h.ID, requestID, StatusApproved)
		if err != nil {
			return err
		}
		if s.enforceCapacity {
			role, err := st.role(ctx, h.ID, userID)
			if err != nil {
				return err
			}
			if role == "" {
				if err := checkCapacity(ctx, st, h.ID, maxPeople); err != nil {
					return err
				}
			}
		}
		_, _, err = st.insertMembership(ctx, h.ID, userID, RoleMember)
		return err
	})
	if err != nil {
		return err
	}
	s.logOp("approve_request", h.ID, caller).WithFields(logrus.Fields{"request_id": requestID, "member_id": userID}).Info("join request approved")
	return nil
}

// RejectRequest marks the request rejected. The row is kept so the requester
// can still see the outcome.
func (s *Service) RejectRequest(ctx context.Context, caller, id, requestID string) (err error) {
	defer s.track("reject_request", &err)
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return err
	}
	if requestID == "" {
		return errRequestIDRequired
	}
	if _, perr := uuid.Parse(requestID); perr != nil {
		return errRequestNotFound
	}
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		if _, err := lockAdmin(ctx, st, h.ID, caller); err != nil {
			return err
		}
		_, err := st.resolveRequest(ctx, h.ID, requestID, StatusRejected)
		return err
	})
	if err != nil {
		return err
	}
	s.logOp("reject_request", h.ID, caller).WithField("request_id", requestID).Info("join request rejected")
	return nil
}

// RemoveMember deletes another user's membership. An admin may remove
// themselves only while another admin remains.
func (s *Service) RemoveMember(ctx context.Context, caller, id, userID string) (err error) {
	defer s.track("remove_member", &err)
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return err
	}
	if userID == "" {
		return errUserIDRequired
	}
	if _, perr := uuid.Parse(userID); perr != nil {
		return errUserNotMember
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		if _, err := lockAdmin(ctx, st, h.ID, caller); err != nil {
			return err
		}
		if userID == caller {
			others, err := st.otherAdmins(ctx, h.ID, caller)
			if err != nil {
				return err
			}
			if others == 0 {
				return errLastAdminRemove
			}
		}
		deleted, err := st.deleteMembership(ctx, h.ID, userID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return errUserNotMember
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logOp("remove_member", h.ID, caller).WithField("member_id", userID).Info("member removed")
	return nil
}

// SetRole promotes or demotes a member. Demoting the only admin is refused.
func (s *Service) SetRole(ctx context.Context, caller, id, userID, role string) (err error) {
	defer s.track("set_role", &err)
	h, err := s.adminHike(ctx, caller, id)
	if err != nil {
		return err
	}
	if userID == "" {
		return errUserIDRequired
	}
	if role != RoleAdmin && role != RoleMember {
		return errInvalidRole
	}
	if _, perr := uuid.Parse(userID); perr != nil {
		return errUserNotMember
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := store{tx}
		if _, err := lockAdmin(ctx, st, h.ID, caller); err != nil {
			return err
		}
		current, err := st.role(ctx, h.ID, userID)
		if err != nil {
			return err
		}
		if current == "" {
			return errUserNotMember
		}
		if current == role {
			return nil
		}
		if current == RoleAdmin {
			others, err := st.otherAdmins(ctx, h.ID, userID)
			if err != nil {
				return err
			}
			if others == 0 {
				return errLastAdminDemote
			}
		}
		return st.setRole(ctx, h.ID, userID, role)
	})
	if err != nil {
		return err
	}
	s.logOp("set_role", h.ID, caller).WithFields(logrus.Fields{"member_id": userID, "role": role}).Info("member role changed")
	return nil
}
