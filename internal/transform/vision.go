package transform

import (
	"fmt"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/media"
)

// RewriteVision prepares message content for a vision-capable model. Image
// blocks carrying a data:image URL are decoded and size-checked, remote
// http(s) URLs pass through unchanged, and blocks matching neither pattern
// are dropped. Video references, including the data:video-in-image-block
// form, are left alone; they are the capability gate's business.
//
// A size ceiling violation aborts the whole request rather than dropping the
// offending block.
func RewriteVision(messages []domain.Message) ([]domain.Message, error) {
	out := make([]domain.Message, len(messages))
	for i, msg := range messages {
		if msg.Content.IsSimpleText() {
			out[i] = msg
			continue
		}

		parts := make([]domain.ContentPart, 0, len(msg.Content.Parts))
		for _, part := range msg.Content.Parts {
			if !part.IsImageTagged() || media.IsVideoDataURL(part.MediaURL()) {
				parts = append(parts, part)
				continue
			}

			data, ok := media.ExtractImageData(part.MediaURL())
			if !ok {
				// Neither a data:image URI nor a remote URL.
				continue
			}
			if data.Base64Payload != "" {
				if v := media.ValidateImageSize(data.Base64Payload); !v.Valid {
					return nil, domain.ErrImageValidation(fmt.Sprintf(
						"image is %.1fMB, the limit is %dMB", v.SizeMB, v.MaxMB))
				}
			}
			parts = append(parts, domain.ImageURLPart(data.URL))
		}

		out[i] = domain.Message{Role: msg.Role, Name: msg.Name, Content: domain.NewPartsContent(parts...)}
	}
	return out, nil
}
