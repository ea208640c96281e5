package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Detection is one stored detection result.
type Detection struct {
	ID           uuid.UUID           `json:"id"`
	URL          string              `json:"url"`
	Technologies map[string][]string `json:"technologies"`
	Categories   []string            `json:"categories"`
	Partial      bool                `json:"partial"`
	DetectedAt   time.Time           `json:"detected_at"`
}

// SaveDetection stores result and returns the saved record.
func (db *DB) SaveDetection(ctx context.Context, result *detect.Result) (*Detection, error) {
	technologies, err := json.Marshal(result.Technologies)
	if err != nil {
		return nil, fmt.Errorf("failed to encode technologies: %w", err)
	}

	d := &Detection{
		ID:           uuid.New(),
		URL:          result.URL,
		Technologies: result.Technologies,
		Categories:   result.Categories(),
		Partial:      result.Partial,
	}

	err = db.client.QueryRowContext(ctx, `
		INSERT INTO detections (id, url, technologies, categories, technology_count, partial)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING detected_at
	`, d.ID, d.URL, technologies, pq.Array(d.Categories), result.Len(), d.Partial).Scan(&d.DetectedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert detection: %w", err)
	}

	db.invalidate(d.URL)

	log.Debug().
		Str("detection_id", d.ID.String()).
		Str("url", d.URL).
		Int("technologies", result.Len()).
		Msg("Detection saved")

	return d, nil
}

// ListDetections returns the most recent detections for url, newest first.
// limit is clamped to [1, MaxHistoryLimit]; zero means DefaultHistoryLimit.
func (db *DB) ListDetections(ctx context.Context, url string, limit int) ([]Detection, error) {
	limit = clampLimit(limit)

	// The cache holds the full window for a URL; callers get a prefix.
	if cached, ok := db.Cache.Get(url); ok {
		return truncate(cached, limit), nil
	}
	generation := db.cacheGeneration(url)

	rows, err := db.client.QueryContext(ctx, `
		SELECT id, url, technologies, categories, partial, detected_at
		FROM detections
		WHERE url = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`, url, MaxHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []Detection
	for rows.Next() {
		var (
			d            Detection
			technologies []byte
		)
		if err := rows.Scan(&d.ID, &d.URL, &technologies, pq.Array(&d.Categories), &d.Partial, &d.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if err := json.Unmarshal(technologies, &d.Technologies); err != nil {
			return nil, fmt.Errorf("failed to decode technologies for detection %s: %w", d.ID, err)
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detections: %w", err)
	}

	db.cacheIfCurrent(url, generation, detections)
	return truncate(detections, limit), nil
}

// invalidate drops the cached window for url and bumps its generation so a
// read that started before the write cannot repopulate it.
func (db *DB) invalidate(url string) {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	db.generations[url]++
	db.Cache.Delete(url)
}

func (db *DB) cacheGeneration(url string) uint64 {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	return db.generations[url]
}

func (db *DB) cacheIfCurrent(url string, generation uint64, detections []Detection) bool {
	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	if db.generations[url] != generation {
		log.Debug().Str("url", url).Msg("Skipping history cache fill after concurrent save")
		return false
	}
	db.Cache.Set(url, detections)
	return true
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

func truncate(detections []Detection, limit int) []Detection {
	if len(detections) > limit {
		detections = detections[:limit]
	}
	out := make([]Detection, len(detections))
	copy(out, detections)
	return out
}
