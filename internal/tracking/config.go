package tracking

import (
	"bytes"
	"strings"
	"time"
)

// FlexBool unmarshals booleans that some backends serialize as the strings
// "true"/"false" instead of JSON booleans.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	*b = FlexBool(string(data) == "true" || string(data) == "1")
	return nil
}

func (b FlexBool) Bool() bool { return bool(b) }

// ETADisplay configures how the consumer application renders the ETA.
type ETADisplay struct {
	Method    string   `json:"method,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// RatingReason points at the post-rating follow-up endpoint.
type RatingReason struct {
	URL string `json:"rating_reason_url,omitempty"`
}

// TipConfig describes the tip submission endpoints.
type TipConfig struct {
	URL                 string `json:"tipUrl,omitempty"`
	SignatureUploadPath string `json:"tipSignatureUploadPath,omitempty"`
	Currency            string `json:"tipCurrency,omitempty"`
}

// SharedConfig is the accumulated tracking configuration for one shared
// session. It is filled incrementally: watch acknowledgments replace it
// wholesale, everything else merges with fill-if-absent semantics.
type SharedConfig struct {
	UUID       string `json:"uuid,omitempty"`
	ShareUUID  string `json:"share_uuid,omitempty"`
	OrderUUID  string `json:"order_uuid,omitempty"`
	DriverUUID string `json:"driver_uuid,omitempty"`
	WayPointID int64  `json:"way_point_id,omitempty"`

	Expired FlexBool `json:"expired,omitempty"`
	Done    FlexBool `json:"done,omitempty"`

	// ETA is the server-supplied absolute arrival timestamp, RFC3339.
	ETA string `json:"eta,omitempty"`

	DestinationLat float64 `json:"destination_lat,omitempty"`
	DestinationLng float64 `json:"destination_lng,omitempty"`
	CurrentLat     float64 `json:"current_lat,omitempty"`
	CurrentLng     float64 `json:"current_lng,omitempty"`

	DriverActivity int         `json:"driver_activity,omitempty"`
	AllowRating    bool        `json:"allow_rating,omitempty"`
	ETADisplay     *ETADisplay `json:"consumer_app_eta_display,omitempty"`

	RatingURL     string        `json:"rating_url,omitempty"`
	RatingToken   string        `json:"rating_token,omitempty"`
	RatingReason  *RatingReason `json:"rating_reason,omitempty"`
	NoteURL       string        `json:"note_url,omitempty"`
	NoteToken     string        `json:"note_token,omitempty"`
	FindMeURL     string        `json:"find_me_url,omitempty"`
	FindMeToken   string        `json:"find_me_token,omitempty"`
	AlertingURL   string        `json:"alerting_url,omitempty"`
	AlertingToken string        `json:"alerting_token,omitempty"`
	TipToken      string        `json:"tip_token,omitempty"`
	Tip           *TipConfig    `json:"tip_configuration,omitempty"`
}

// fill merges identifiers with fill-if-absent semantics: a field already set
// is never overwritten by this path. Watch acknowledgments, which are
// authoritative, bypass fill and replace the configuration instead.
func (c *SharedConfig) fill(orderUUID, shareUUID, driverUUID string, wayPointID int64) {
	if c.OrderUUID == "" && orderUUID != "" {
		c.OrderUUID = orderUUID
	}
	if c.ShareUUID == "" && shareUUID != "" {
		c.ShareUUID = shareUUID
	}
	if c.DriverUUID == "" && driverUUID != "" {
		c.DriverUUID = driverUUID
	}
	if c.WayPointID == 0 && wayPointID != 0 {
		c.WayPointID = wayPointID
	}
}

// serverETA parses the server-supplied arrival timestamp, if any.
func (c *SharedConfig) serverETA() (time.Time, bool) {
	if c == nil || c.ETA == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, c.ETA)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Order is the raw order payload delivered over push or pull.
type Order struct {
	UUID              string `json:"uuid,omitempty"`
	ShareUUID         string `json:"share_uuid,omitempty"`
	DriverUUID        string `json:"driver_uuid,omitempty"`
	ActiveWayPointID  int64  `json:"active_way_point_id,omitempty"`
	Status            int    `json:"status,omitempty"`
	Title             string `json:"title,omitempty"`
	DriverName        string `json:"driver_name,omitempty"`
	DriverImage       string `json:"driver_image,omitempty"`
	DriverPhone       string `json:"driver_phone,omitempty"`
}

// OrderStatusInProgress is the order status that allows auto-watching the
// driver.
const OrderStatusInProgress = 2

// rewriteAssetPaths makes relative asset references absolute against the
// configured asset base so consumers can render them without knowing the
// backend host.
func (o *Order) rewriteAssetPaths(base string) {
	if o == nil || base == "" {
		return
	}
	if strings.HasPrefix(o.DriverImage, "/") {
		o.DriverImage = strings.TrimSuffix(base, "/") + o.DriverImage
	}
}

// LocationMessage is a raw location sample, from push ("lat"/"lng") or from
// the REST fallback ("current_lat"/"current_lng").
type LocationMessage struct {
	Success    bool    `json:"success,omitempty"`
	Status     string  `json:"status,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
	CurrentLat float64 `json:"current_lat,omitempty"`
	CurrentLng float64 `json:"current_lng,omitempty"`
}

// Point normalizes the two field layouts.
func (m LocationMessage) Point() GeoPoint {
	if m.Lat != 0 || m.Lng != 0 {
		return GeoPoint{Lat: m.Lat, Lng: m.Lng}
	}
	return GeoPoint{Lat: m.CurrentLat, Lng: m.CurrentLng}
}
