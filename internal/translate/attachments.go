package translate

import (
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// Inline data URLs in string content. Only images appear inline; other
	// kinds arrive as multimodal parts.
	inlineDataURLPattern = regexp.MustCompile(`data:image/(\w+);base64,([a-zA-Z0-9+/=]+)`)

	// Fenced blocks and inline code spans. Data URLs inside these are code
	// being discussed, not uploads.
	codeSpanPattern = regexp.MustCompile("```[\\s\\S]*?```|`[^`\\n]+`")
)

// ExtractInlineAttachments pulls data URLs out of plain string content,
// skipping any that sit inside code spans. Returns the cleaned text and the
// extracted uploads.
func ExtractInlineAttachments(text string) (string, []Attachment) {
	matches := inlineDataURLPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	spans := codeSpanPattern.FindAllStringIndex(text, -1)
	inCode := func(pos int) bool {
		for _, span := range spans {
			if span[0] <= pos && pos < span[1] {
				return true
			}
		}
		return false
	}

	var files []Attachment
	var cleaned strings.Builder
	prev := 0
	removed := false
	for _, m := range matches {
		if inCode(m[0]) {
			continue
		}
		ext := text[m[2]:m[3]]
		files = append(files, Attachment{
			FileName:    fmt.Sprintf("upload-%s.%s", uuid.NewString(), ext),
			ContentType: "image/" + ext,
			Data:        text[m[4]:m[5]],
		})
		cleaned.WriteString(text[prev:m[0]])
		prev = m[1]
		removed = true
	}
	if !removed {
		return text, nil
	}
	cleaned.WriteString(text[prev:])
	return strings.TrimSpace(cleaned.String()), files
}

// AttachmentFromDataURL builds an upload from a multimodal part's data URL.
// detail, when set, names the file; otherwise a name is derived from the
// MIME type. Returns false for non-data URLs and URLs without base64 bodies.
func AttachmentFromDataURL(url, detail string) (Attachment, bool) {
	if !strings.HasPrefix(url, "data:") {
		return Attachment{}, false
	}
	meta, data, ok := strings.Cut(url[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return Attachment{}, false
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	name := detail
	if name == "" {
		name = generatedFileName(contentType)
	}

	return Attachment{
		FileName:    name,
		ContentType: contentType,
		Data:        data,
	}, true
}

// generatedFileName derives "<prefix>_<uuid>.<ext>" from a MIME type.
func generatedFileName(contentType string) string {
	mainType, subType, found := strings.Cut(contentType, "/")
	if !found {
		mainType, subType = "application", "octet-stream"
	}

	prefix := "file"
	switch mainType {
	case "image":
		prefix = "image"
	case "audio":
		prefix = "audio"
	}

	ext := ""
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = strings.TrimPrefix(exts[0], ".")
	}
	if ext == "" {
		if len(subType) < 20 {
			ext = subType
		} else {
			ext = "bin"
		}
	}

	return fmt.Sprintf("%s_%s.%s", prefix, uuid.NewString(), ext)
}

// guardFileCount drops the whole upload list when it looks like code-block
// detection failed: many files, most of them tiny, is the signature of
// inline icons in pasted source.
func guardFileCount(files []Attachment) []Attachment {
	if len(files) <= 10 {
		return files
	}
	small := 0
	for _, f := range files {
		if len(f.Data) < 5000 {
			small++
		}
	}
	if small > 5 {
		return nil
	}
	return files
}
