package transform

import (
	"encoding/base64"
	"encoding/json"
)

// Chutes speaks openai-compatible chat but routes media through dedicated
// endpoints that take base64 JSON envelopes instead of multipart bodies.
type Chutes struct {
	OpenAI
}

var (
	_ Transformer      = (*Chutes)(nil)
	_ MediaTransformer = (*Chutes)(nil)
)

func (*Chutes) Kind() Kind { return KindChutes }

// TranscriptionRequest wraps the audio blob as {"audio_b64": ...} and targets
// the dedicated transcription path. Optional parameters ride along only when
// the caller supplied them.
func (*Chutes) TranscriptionRequest(req MediaRequest) (Request, error) {
	payload := map[string]any{
		"audio_b64": base64.StdEncoding.EncodeToString(req.File.Data),
	}
	if req.Language != "" {
		payload["language"] = req.Language
	}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Path: "/transcribe", ContentType: "application/json", Body: body}, nil
}

// OCRRequest wraps the image blob as {"image_b64": ...} at the OCR path.
func (*Chutes) OCRRequest(req MediaRequest) (Request, error) {
	payload := map[string]any{
		"image_b64": base64.StdEncoding.EncodeToString(req.File.Data),
	}
	if req.Prompt != "" {
		payload["prompt"] = req.Prompt
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Path: "/ocr", ContentType: "application/json", Body: body}, nil
}
