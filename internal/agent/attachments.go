package agent

import (
	"encoding/base64"
	"strings"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// artifactsToAttachments converts tool artifacts into message attachments
// for the event stream, inlining raw data as a data: URL when the artifact
// has no address of its own.
func artifactsToAttachments(artifacts []Artifact) []models.Attachment {
	if len(artifacts) == 0 {
		return nil
	}
	attachments := make([]models.Attachment, 0, len(artifacts))
	for _, art := range artifacts {
		attachment := models.Attachment{
			ID:       art.ID,
			Type:     attachmentType(art),
			Filename: art.Filename,
			MimeType: art.MimeType,
			Size:     int64(len(art.Data)),
			URL:      art.URL,
		}
		if attachment.URL == "" && len(art.Data) > 0 && art.MimeType != "" {
			attachment.URL = "data:" + art.MimeType + ";base64," + base64.StdEncoding.EncodeToString(art.Data)
		}
		attachments = append(attachments, attachment)
	}
	return attachments
}

// attachmentType classifies an artifact by its declared type first, falling
// back to the MIME type's top-level class.
func attachmentType(art Artifact) string {
	switch art.Type {
	case "screenshot", "image":
		return "image"
	case "recording", "video":
		return "video"
	case "audio":
		return "audio"
	}
	switch {
	case strings.HasPrefix(art.MimeType, "image/"):
		return "image"
	case strings.HasPrefix(art.MimeType, "video/"):
		return "video"
	case strings.HasPrefix(art.MimeType, "audio/"):
		return "audio"
	}
	return "file"
}
