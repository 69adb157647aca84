package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/tracking"
)

// MatrixOracle queries an external distance-matrix HTTP service. The
// response format follows the common matrix shape: a top-level status plus
// one element per origin/destination pair.
type MatrixOracle struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewMatrixOracle builds a MatrixOracle for the given service URL. A nil
// httpClient falls back to a client with a 10 second timeout.
func NewMatrixOracle(baseURL string, httpClient *http.Client, logger *zap.Logger) *MatrixOracle {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatrixOracle{baseURL: baseURL, http: httpClient, log: logger}
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int64 `json:"value"` // seconds
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// Duration implements tracking.Oracle. A routable pair returns the matrix
// duration; an unroutable pair (water, off-grid coordinates) returns
// tracking.ErrNoRoute while a transport or service failure returns a plain
// error.
func (m *MatrixOracle) Duration(ctx context.Context, origin, dest tracking.GeoPoint, mode tracking.TravelMode) (time.Duration, error) {
	query := url.Values{}
	query.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	query.Set("destinations", fmt.Sprintf("%f,%f", dest.Lat, dest.Lng))
	query.Set("mode", string(mode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("matrix request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("matrix request: status %d", resp.StatusCode)
	}

	var decoded matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("matrix response: %w", err)
	}
	if decoded.Status != "OK" {
		return 0, fmt.Errorf("matrix service status %q", decoded.Status)
	}
	if len(decoded.Rows) == 0 || len(decoded.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("matrix response: empty")
	}

	element := decoded.Rows[0].Elements[0]
	switch element.Status {
	case "OK":
		return time.Duration(element.Duration.Value) * time.Second, nil
	case "NOT_FOUND", "ZERO_RESULTS":
		m.log.Debug("no route between points",
			zap.Float64("origin_lat", origin.Lat), zap.Float64("dest_lat", dest.Lat))
		return 0, tracking.ErrNoRoute
	default:
		return 0, fmt.Errorf("matrix element status %q", element.Status)
	}
}
