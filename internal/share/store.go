// Package share implements the server side of location sharing: redis-backed
// storage for shares, orders and driver positions, a NATS event publisher
// and the HTTP API the tracking engine consumes.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/sharetrack/internal/tracking"
)

// ErrNotFound is returned when a share, order or position does not exist.
var ErrNotFound = errors.New("not found")

const (
	shareKeyPrefix = "share:"
	orderKeyPrefix = "order:"
	orderIndexKey  = "order_share_index"
	driverIndexKey = "driver_share_index"
	driverGeoKey   = "driver:positions"
	defaultTTL     = 24 * time.Hour
)

// Store persists shares and orders as JSON documents and driver positions
// in a redis GEO set. All keys expire so abandoned shares clean themselves
// up.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewStore builds a Store. A zero ttl defaults to 24 hours.
func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// SaveShare writes the share document and indexes it by order uuid.
func (s *Store) SaveShare(ctx context.Context, cfg *tracking.SharedConfig) error {
	if cfg.UUID == "" {
		return fmt.Errorf("save share: missing uuid")
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal share: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, shareKeyPrefix+cfg.UUID, doc, s.ttl)
	if cfg.OrderUUID != "" {
		pipe.HSet(ctx, orderIndexKey, cfg.OrderUUID, cfg.UUID)
		pipe.Expire(ctx, orderIndexKey, s.ttl)
	}
	if cfg.DriverUUID != "" {
		pipe.HSet(ctx, driverIndexKey, cfg.DriverUUID, cfg.UUID)
		pipe.Expire(ctx, driverIndexKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save share: %w", err)
	}
	return nil
}

// Share loads a share document by uuid.
func (s *Store) Share(ctx context.Context, shareUUID string) (*tracking.SharedConfig, error) {
	doc, err := s.client.Get(ctx, shareKeyPrefix+shareUUID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	var cfg tracking.SharedConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode share: %w", err)
	}
	return &cfg, nil
}

// ShareByOrder resolves the share minted for an order, if any.
func (s *Store) ShareByOrder(ctx context.Context, orderUUID string) (string, error) {
	shareUUID, err := s.client.HGet(ctx, orderIndexKey, orderUUID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get share by order: %w", err)
	}
	return shareUUID, nil
}

// ShareByDriver resolves the share a driver's positions feed into, if any.
func (s *Store) ShareByDriver(ctx context.Context, driverUUID string) (string, error) {
	shareUUID, err := s.client.HGet(ctx, driverIndexKey, driverUUID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get share by driver: %w", err)
	}
	return shareUUID, nil
}

// CreateShare mints a share for an order, reusing an existing one when the
// order is already shared.
func (s *Store) CreateShare(ctx context.Context, order *tracking.Order) (*tracking.SharedConfig, error) {
	if existing, err := s.ShareByOrder(ctx, order.UUID); err == nil {
		return s.Share(ctx, existing)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cfg := &tracking.SharedConfig{
		UUID:       uuid.NewString(),
		ShareUUID:  "",
		OrderUUID:  order.UUID,
		DriverUUID: order.DriverUUID,
		WayPointID: order.ActiveWayPointID,
	}
	cfg.ShareUUID = cfg.UUID
	if err := s.SaveShare(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveOrder writes the order document.
func (s *Store) SaveOrder(ctx context.Context, order *tracking.Order) error {
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := s.client.Set(ctx, orderKeyPrefix+order.UUID, doc, s.ttl).Err(); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// Order loads an order document by uuid.
func (s *Store) Order(ctx context.Context, orderUUID string) (*tracking.Order, error) {
	doc, err := s.client.Get(ctx, orderKeyPrefix+orderUUID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	var order tracking.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// UpdateDriverPosition records the driver's latest position in the GEO set.
func (s *Store) UpdateDriverPosition(ctx context.Context, driverUUID string, point tracking.GeoPoint) error {
	err := s.client.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      driverUUID,
		Longitude: point.Lng,
		Latitude:  point.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd driver: %w", err)
	}
	positionsIngestedTotal.Inc()
	return nil
}

// DriverPosition reads the driver's last recorded position.
func (s *Store) DriverPosition(ctx context.Context, driverUUID string) (tracking.GeoPoint, error) {
	positions, err := s.client.GeoPos(ctx, driverGeoKey, driverUUID).Result()
	if err != nil {
		return tracking.GeoPoint{}, fmt.Errorf("geopos driver: %w", err)
	}
	if len(positions) == 0 || positions[0] == nil {
		return tracking.GeoPoint{}, ErrNotFound
	}
	return tracking.GeoPoint{Lat: positions[0].Latitude, Lng: positions[0].Longitude}, nil
}

// RecordFeedback appends a feedback payload (rating, note, find me, tip)
// to the share's feedback log.
func (s *Store) RecordFeedback(ctx context.Context, shareUUID, action string, payload map[string]any) error {
	entry, err := json.Marshal(map[string]any{"action": action, "payload": payload})
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	key := shareKeyPrefix + shareUUID + ":feedback"
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, entry)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	return nil
}

// Feedback returns the recorded feedback entries for a share.
func (s *Store) Feedback(ctx context.Context, shareUUID string) ([]string, error) {
	entries, err := s.client.LRange(ctx, shareKeyPrefix+shareUUID+":feedback", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return entries, nil
}

// SaveUpload stores raw uploaded bytes (tip signatures) under a name.
func (s *Store) SaveUpload(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, "upload:"+name, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	return nil
}

// DriversNear returns the uuids of drivers within radius meters of a point,
// nearest first.
func (s *Store) DriversNear(ctx context.Context, center tracking.GeoPoint, radiusMeters float64, limit int) ([]string, error) {
	results, err := s.client.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  center.Lng,
		Latitude:   center.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
		Count:      limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch drivers: %w", err)
	}
	return results, nil
}
