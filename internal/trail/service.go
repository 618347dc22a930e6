package trail

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/r15huu/HikeMates/internal/apperr"
	"github.com/r15huu/HikeMates/internal/logger"
	"github.com/r15huu/HikeMates/internal/metrics"
	"github.com/r15huu/HikeMates/internal/shared/geo"
)

const (
	DefaultRadius = 5000
	MaxRadius     = 50000

	cachePrefix = "trails:"
)

var (
	errMissingQuery  = apperr.Validation("Missing query param: q")
	errInvalidPoint  = apperr.Validation("lat and lon must be valid coordinates")
	errInvalidRadius = apperr.Validation("radius must be a positive number of meters")
)

type Config struct {
	// Cache is optional; without it every lookup goes upstream.
	Cache   *redis.Client
	TTL     time.Duration
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
}

type Service struct {
	client  *Client
	cache   *redis.Client
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewService(client *Client, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		client:  client,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
		log:     log,
		metrics: cfg.Metrics,
	}
}

// Geocode resolves free text to at most five places.
func (s *Service) Geocode(ctx context.Context, q string) ([]Place, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errMissingQuery
	}

	key := cachePrefix + "geocode:" + strings.ToLower(q)
	var places []Place
	if s.cached(ctx, key, &places) {
		return places, nil
	}

	places, err := s.client.Geocode(ctx, q)
	s.metrics.ObserveUpstream(upstreamNominatim, err)
	if err != nil {
		s.log.WithError(err).WithField("upstream", upstreamNominatim).Warn("geocode failed")
		return nil, err
	}
	s.store(ctx, key, places)
	return places, nil
}

// Search lists trails within the radius, nearest first. A zero radius means
// the default; larger radii are capped.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]Trail, error) {
	if !geo.ValidPoint(q.Lat, q.Lon) {
		return nil, errInvalidPoint
	}
	switch {
	case q.Radius < 0:
		return nil, errInvalidRadius
	case q.Radius == 0:
		q.Radius = DefaultRadius
	case q.Radius > MaxRadius:
		q.Radius = MaxRadius
	}

	key := fmt.Sprintf("%ssearch:%s:%s:%d", cachePrefix,
		strconv.FormatFloat(q.Lat, 'f', 4, 64), strconv.FormatFloat(q.Lon, 'f', 4, 64), q.Radius)
	var trails []Trail
	if s.cached(ctx, key, &trails) {
		return trails, nil
	}

	elements, err := s.client.Search(ctx, q)
	s.metrics.ObserveUpstream(upstreamOverpass, err)
	if err != nil {
		s.log.WithError(err).WithField("upstream", upstreamOverpass).Warn("trail search failed")
		return nil, err
	}
	trails = normalize(elements, q.Lat, q.Lon)
	s.store(ctx, key, trails)
	return trails, nil
}

func normalize(elements []overpassElement, lat, lon float64) []Trail {
	trails := make([]Trail, 0, len(elements))
	for _, el := range elements {
		var p overpassPoint
		switch {
		case el.Center != nil:
			p = *el.Center
		case el.Lat != nil && el.Lon != nil:
			p = overpassPoint{Lat: *el.Lat, Lon: *el.Lon}
		default:
			continue
		}

		kind := el.Tags["highway"]
		if kind == "" {
			kind = el.Tags["route"]
		}
		trails = append(trails, Trail{
			ID:         el.ID,
			Type:       el.Type,
			Name:       el.Tags["name"],
			Kind:       kind,
			Lat:        p.Lat,
			Lon:        p.Lon,
			DistanceKm: math.Round(geo.HaversineKm(lat, lon, p.Lat, p.Lon)*100) / 100,
			Tags:       el.Tags,
		})
	}
	sort.SliceStable(trails, func(i, j int) bool {
		return trails[i].DistanceKm < trails[j].DistanceKm
	})
	return trails
}

// cached decodes the entry at key into dst. Cache failures count as misses.
func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("trail cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("trail cache entry corrupt")
		return false
	}
	return true
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("trail cache write failed")
	}
}
