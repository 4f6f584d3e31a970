package storage

import (
	"bytes"
	"math"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
)

// ExtractCapture reads GPS position and original capture time from a photo's
// EXIF block. Images without EXIF yield empty metadata, never an error.
func ExtractCapture(data []byte) models.CaptureMetadata {
	var meta models.CaptureMetadata

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF data in upload")
		return meta
	}

	if lat, lng, err := x.LatLong(); err == nil && validCoordinate(lat, lng) {
		meta.Latitude = &lat
		meta.Longitude = &lng
	}

	if taken, err := x.DateTime(); err == nil && !taken.IsZero() {
		taken = taken.UTC()
		meta.TakenAt = &taken
	}

	return meta
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
