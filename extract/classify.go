package extract

import "strings"

// Kind is the coarse preview category a consumer uses to pick a renderer.
// Classification is data, not logic: the table below is the single
// authoritative mapping and nothing here inspects file content.
type Kind string

const (
	KindText         Kind = "text"
	KindCode         Kind = "code"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindAudio        Kind = "audio"
	KindPDF          Kind = "pdf"
	KindDocument     Kind = "document"
	KindSpreadsheet  Kind = "spreadsheet"
	KindPresentation Kind = "presentation"
	KindFont         Kind = "font"
	KindUnsupported  Kind = "unsupported"
)

var extensionKind = map[string]Kind{
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".svg": KindImage, ".webp": KindImage, ".bmp": KindImage, ".ico": KindImage, ".avif": KindImage,

	".mp4": KindVideo, ".webm": KindVideo, ".mov": KindVideo, ".avi": KindVideo,
	".mkv": KindVideo, ".flv": KindVideo, ".wmv": KindVideo, ".m4v": KindVideo,
	".3gp": KindVideo, ".3g2": KindVideo, ".mpg": KindVideo, ".mpeg": KindVideo, ".ogg": KindVideo,

	".mp3": KindAudio, ".wav": KindAudio, ".flac": KindAudio, ".aac": KindAudio,
	".m4a": KindAudio, ".opus": KindAudio, ".wma": KindAudio, ".aiff": KindAudio,
	".aif": KindAudio, ".mid": KindAudio, ".midi": KindAudio,

	".pdf": KindPDF,

	".docx": KindDocument, ".doc": KindDocument, ".odt": KindDocument,
	".rtf": KindDocument, ".pages": KindDocument,

	".xlsx": KindSpreadsheet, ".xls": KindSpreadsheet, ".ods": KindSpreadsheet,
	".csv": KindSpreadsheet, ".tsv": KindSpreadsheet, ".numbers": KindSpreadsheet,

	".pptx": KindPresentation, ".ppt": KindPresentation, ".odp": KindPresentation, ".key": KindPresentation,

	".woff": KindFont, ".woff2": KindFont, ".ttf": KindFont, ".otf": KindFont, ".eot": KindFont,
}

// codeExtensions are the recognized source/markup/config extensions that
// classify as code rather than plain text.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".cc": true, ".hpp": true,
	".cs": true, ".rb": true, ".php": true, ".rs": true, ".swift": true, ".kt": true,
	".scala": true, ".sh": true, ".bash": true, ".zsh": true, ".pl": true, ".lua": true,
	".sql": true, ".html": true, ".htm": true, ".css": true, ".scss": true, ".sass": true,
	".less": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true, ".xml": true,
	".ini": true, ".cfg": true, ".conf": true, ".dockerfile": true, ".makefile": true,
	".proto": true, ".graphql": true, ".vue": true, ".svelte": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".log": true,
}

// ClassifyName maps an entry's filename to a preview Kind by extension.
func ClassifyName(name string) Kind {
	ext := strings.ToLower(extOf(name))
	if k, ok := extensionKind[ext]; ok {
		return k
	}
	if codeExtensions[ext] {
		return KindCode
	}
	if textExtensions[ext] {
		return KindText
	}
	return KindUnsupported
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}
