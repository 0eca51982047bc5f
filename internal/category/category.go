// Package category classifies shared items by file extension.
package category

import (
	"mime"
	"path/filepath"
	"strings"
)

type Category string

const (
	Document Category = "document"
	Text     Category = "text"
	Image    Category = "image"
	Video    Category = "video"
	Audio    Category = "audio"
	Archive  Category = "archive"
	Other    Category = "other"
)

var byExtension = map[Category][]string{
	Document: {"doc", "docx", "ppt", "pptx", "pps", "ppsx", "odt", "xls", "xlsx", "pdf"},
	Text:     {"txt", "md", "csv", "json", "log"},
	Image:    {"jpg", "jpeg", "png", "gif", "bmp", "svg", "webp"},
	Video:    {"mp4", "webm", "mov", "avi", "m4v", "flv", "wmv", "mkv", "mpg", "mpeg"},
	Audio:    {"mp3", "wav", "ogg", "m4a", "flac", "aac", "wma", "opus"},
	Archive:  {"zip", "rar", "tar", "gz", "7z", "iso", "dmg"},
}

var categories = func() map[string]Category {
	m := make(map[string]Category)
	for c, exts := range byExtension {
		for _, ext := range exts {
			m[ext] = c
		}
	}
	return m
}()

// contentTypes takes precedence over the system mime table.
var contentTypes = map[string]string{
	"txt": "text/plain; charset=utf-8",
	"md":  "text/markdown; charset=utf-8",
	"csv": "text/csv; charset=utf-8",
	"zip": "application/zip",
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

func GetCategory(fileName string) Category {
	if c, ok := categories[extension(fileName)]; ok {
		return c
	}
	return Other
}

// ContentType returns the media type to serve fileName with, falling back
// to application/octet-stream.
func ContentType(fileName string) string {
	ext := extension(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := contentTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
