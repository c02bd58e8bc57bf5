package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/checkscan-worker/internal/processor"
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    CheckJobPayload `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"maxRetries"`
}

// CheckJobPayload is the check image job posted by the upload service
type CheckJobPayload struct {
	CheckID    string                 `json:"checkId"`
	UserID     string                 `json:"userId"`
	Filename   string                 `json:"filename"`
	Width      int                    `json:"width,omitempty"`
	Height     int                    `json:"height,omitempty"`
	FileBuffer []byte                 `json:"-"` // set by UnmarshalJSON
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes fileBuffer from either a base64 string or a
// Node.js Buffer object ({"type":"Buffer","data":[...]})
func (p *CheckJobPayload) UnmarshalJSON(data []byte) error {
	type Alias CheckJobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal CheckJobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// MarshalJSON writes fileBuffer back as base64 so re-queued jobs keep
// their image
func (p CheckJobPayload) MarshalJSON() ([]byte, error) {
	type Alias CheckJobPayload
	return json.Marshal(struct {
		Alias
		FileBuffer string `json:"fileBuffer,omitempty"`
	}{Alias(p), base64.StdEncoding.EncodeToString(p.FileBuffer)})
}

// Validate checks the payload carries an image. A missing check ID is
// filled in so the result can still be stored.
func (p *CheckJobPayload) Validate() error {
	if len(p.FileBuffer) == 0 {
		return fmt.Errorf("job has no fileBuffer")
	}
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", p.Width, p.Height)
	}
	if p.CheckID == "" {
		p.CheckID = uuid.New().String()
	}
	return nil
}

// Request converts the payload to a processor request
func (p *CheckJobPayload) Request() *processor.CheckRequest {
	return &processor.CheckRequest{
		JobID:  p.CheckID,
		Image:  p.FileBuffer,
		Width:  p.Width,
		Height: p.Height,
	}
}
