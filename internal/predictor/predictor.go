// Package predictor talks to the remote brain-scan inference endpoint.
package predictor

import "context"

// TumorDetected is the only prediction value that selects the tumor branch.
const TumorDetected = "Tumor Detected"

// FileField is the multipart part name the endpoint reads the image from.
const FileField = "file"

// Prediction is the fixed-shape record returned by the endpoint.
type Prediction struct {
	Confidence float64 `json:"confidence"`
	Prediction string  `json:"prediction"`
	Status     string  `json:"status"`
}

// IsTumor reports whether the verdict is an exact tumor match.
func (p *Prediction) IsTumor() bool {
	return p != nil && p.Prediction == TumorDetected
}

// Upload is the image sent to the endpoint.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client exposes the inference call used by the analysis flow.
type Client interface {
	Predict(ctx context.Context, upload Upload) (*Prediction, error)
}
