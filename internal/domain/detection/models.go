package detection

import (
	"time"
)

// BBox is a bounding box in frame pixel coordinates: [x, y, width, height].
type BBox [4]float64

func (b BBox) X() float64      { return b[0] }
func (b BBox) Y() float64      { return b[1] }
func (b BBox) Width() float64  { return b[2] }
func (b BBox) Height() float64 { return b[3] }

type VehicleDetection struct {
	VehicleType string  `json:"vehicle_type"`
	BBox        BBox    `json:"bbox"`
	Confidence  float64 `json:"confidence"`
	CameraID    string  `json:"camera_id,omitempty"`
}

type VehicleDetectionResponse struct {
	Detections []VehicleDetection `json:"detections"`
	Timestamp  time.Time          `json:"timestamp"`
}

type Plate struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	BBox       BBox     `json:"bbox"`
}

type PlateResponse struct {
	Plate     *Plate    `json:"plate"`
	Timestamp time.Time `json:"timestamp"`
}

type Attributes struct {
	Make            string   `json:"make"`
	Model           string   `json:"model"`
	Color           string   `json:"color"`
	MakeConfidence  *float64 `json:"make_confidence"`
	ModelConfidence *float64 `json:"model_confidence"`
	ColorConfidence *float64 `json:"color_confidence"`
}

type AttributesResponse struct {
	Attributes *Attributes `json:"attributes"`
	Timestamp  time.Time   `json:"timestamp"`
}

// DetectionEvent is the unit of record sent from an edge node to the hub.
// Named fields and their confidences are nil together when the value did not
// clear its threshold.
type DetectionEvent struct {
	DetectionID            string    `json:"detection_id"`
	Timestamp              time.Time `json:"timestamp"`
	TollBoothID            int       `json:"toll_booth_id"`
	CameraID               string    `json:"camera_id"`
	VehicleType            *string   `json:"vehicle_type"`
	LicensePlateText       *string   `json:"license_plate_text"`
	LicensePlateConfidence *float64  `json:"license_plate_confidence"`
	Make                   *string   `json:"make"`
	MakeConfidence         *float64  `json:"make_confidence"`
	Model                  *string   `json:"model"`
	ModelConfidence        *float64  `json:"model_confidence"`
	Color                  *string   `json:"color"`
	ColorConfidence        *float64  `json:"color_confidence"`
	ImageURL               *string   `json:"image_url"`
}

// BufferedEvent wraps an event whose direct delivery failed.
type BufferedEvent struct {
	Event        DetectionEvent `json:"event"`
	EnqueuedAt   time.Time      `json:"enqueued_at"`
	AttemptCount int            `json:"attempt_count"`
	LastError    string         `json:"last_error,omitempty"`
}

func (b BufferedEvent) ID() string {
	return b.Event.DetectionID
}
