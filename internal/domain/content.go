package domain

import (
	"encoding/json"
	"strings"
)

// ContentType represents the type of a content block in a message.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeImageURL ContentType = "image_url"
	ContentTypeVideo    ContentType = "video"
	ContentTypeVideoURL ContentType = "video_url"
)

// ContentPart represents a single block of message content: plain text, an
// image reference, or a video reference.
type ContentPart struct {
	Type ContentType `json:"type"`

	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	VideoURL *VideoURL `json:"video_url,omitempty"`
}

// ImageURL references an image, either a remote http(s) URL or a data: URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// VideoURL references a video.
type VideoURL struct {
	URL string `json:"url"`
}

// IsImageTagged reports whether the block is tagged as an image reference.
func (p ContentPart) IsImageTagged() bool {
	return p.Type == ContentTypeImage || p.Type == ContentTypeImageURL
}

// IsVideoTagged reports whether the block is tagged as a video reference.
func (p ContentPart) IsVideoTagged() bool {
	return p.Type == ContentTypeVideo || p.Type == ContentTypeVideoURL
}

// MediaURL returns the URL the block points at, regardless of which media
// field carries it. Empty for text blocks.
func (p ContentPart) MediaURL() string {
	if p.ImageURL != nil {
		return p.ImageURL.URL
	}
	if p.VideoURL != nil {
		return p.VideoURL.URL
	}
	return ""
}

// MessageContent can be a simple string or an array of ContentParts. Simple
// text keeps backward compatibility with plain chat messages while parts
// carry multimodal content.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// IsSimpleText reports whether the content is a bare string.
func (mc *MessageContent) IsSimpleText() bool {
	return len(mc.Parts) == 0
}

// String flattens the content to plain text. Multimodal content keeps only
// its text blocks, concatenated in order.
func (mc *MessageContent) String() string {
	if mc.IsSimpleText() {
		return mc.Text
	}
	var sb strings.Builder
	for _, part := range mc.Parts {
		if part.Type == ContentTypeText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// MarshalJSON encodes simple content as a JSON string and multimodal
// content as an array of blocks, mirroring the accepted input shapes.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsSimpleText() {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Parts)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*mc = MessageContent{Text: text}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*mc = MessageContent{Parts: parts}
	return nil
}

// NewTextContent wraps a plain string.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewPartsContent creates multimodal content from parts.
func NewPartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// TextPart creates a text content block.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImageURLPart creates an image content block from a URL or data: URI.
func ImageURLPart(url string) ContentPart {
	return ContentPart{
		Type:     ContentTypeImageURL,
		ImageURL: &ImageURL{URL: url},
	}
}

// VideoURLPart creates a video content block.
func VideoURLPart(url string) ContentPart {
	return ContentPart{
		Type:     ContentTypeVideoURL,
		VideoURL: &VideoURL{URL: url},
	}
}
