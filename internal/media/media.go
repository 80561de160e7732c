// Package media classifies media content blocks, picks apart image reference
// URLs, and enforces the image size ceiling.
package media

import (
	"regexp"
	"strings"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// MaxImageSizeMB is the server-side ceiling for decoded image payloads.
// Client UIs may enforce a stricter 10MB limit; the server accepts up to 20.
const MaxImageSizeMB = 20

var dataImageRe = regexp.MustCompile(`^data:image/(\w+);base64,(.+)$`)

// ImageData is the outcome of picking apart an image reference URL.
type ImageData struct {
	MediaType     string
	Base64Payload string
	URL           string
}

// ExtractImageData matches url against the data:image base64 pattern.
// A remote http(s) URL passes through with no media type or payload, since
// it cannot be verified without fetching. Anything else is no match and the
// caller must treat the reference as invalid.
func ExtractImageData(url string) (ImageData, bool) {
	if m := dataImageRe.FindStringSubmatch(url); m != nil {
		return ImageData{MediaType: m[1], Base64Payload: m[2], URL: url}, true
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return ImageData{URL: url}, true
	}
	return ImageData{}, false
}

// IsImageContent reports whether any block in content is an image reference.
// An image-tagged block whose URL is a data:video/ URI counts as video, not
// image; video can be smuggled through the image-typed field.
func IsImageContent(content domain.MessageContent) bool {
	for _, part := range content.Parts {
		if part.IsImageTagged() && !IsVideoDataURL(part.MediaURL()) {
			return true
		}
	}
	return false
}

// IsVideoContent reports whether any block in content is a video reference,
// including video data URIs carried by an image-tagged block.
func IsVideoContent(content domain.MessageContent) bool {
	for _, part := range content.Parts {
		if part.IsVideoTagged() {
			return true
		}
		if part.IsImageTagged() && IsVideoDataURL(part.MediaURL()) {
			return true
		}
	}
	return false
}

// IsVideoDataURL reports whether url is a data: URI with a video media type.
func IsVideoDataURL(url string) bool {
	return strings.HasPrefix(url, "data:video/")
}

// SizeValidation reports the outcome of an image size check. The caller
// decides how to react; validation itself never fails.
type SizeValidation struct {
	Valid  bool
	SizeMB float64
	MaxMB  int
}

// ValidateImageSize estimates the decoded size of a base64 payload as
// len*3/4. The estimate ignores padding and embedded whitespace so it runs
// slightly high; the ceiling is a soft limit, not an exact one.
func ValidateImageSize(base64Payload string) SizeValidation {
	sizeMB := float64(len(base64Payload)) * 3 / 4 / (1024 * 1024)
	return SizeValidation{
		Valid:  sizeMB <= MaxImageSizeMB,
		SizeMB: sizeMB,
		MaxMB:  MaxImageSizeMB,
	}
}

// CheckCapabilities gates message content against the resolved model's
// declared upload capabilities. The video check runs first so an image-tagged
// video block reports the video error, not the image one.
func CheckCapabilities(model string, caps domain.ModelCapabilities, messages []domain.Message) *domain.APIError {
	for _, msg := range messages {
		if IsVideoContent(msg.Content) && !caps.SupportsVideoUpload {
			return domain.ErrVideoUploadNotSupported(model)
		}
		if IsImageContent(msg.Content) && !caps.SupportsImageUpload {
			return domain.ErrImageUploadNotSupported(model)
		}
	}
	return nil
}
