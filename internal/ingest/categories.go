package ingest

import "strings"

// Category is the processing hint derived from a dropped file's extension.
type Category string

const (
	CategoryDocument    Category = "document"
	CategoryText        Category = "text"
	CategoryMarkdown    Category = "markdown"
	CategoryData        Category = "data"
	CategorySpreadsheet Category = "spreadsheet"
	CategoryImage       Category = "image"
	CategoryArchive     Category = "archive"
	CategoryUnknown     Category = "unknown"
)

var extensionCategories = map[string]Category{
	".pdf":  CategoryDocument,
	".doc":  CategoryDocument,
	".docx": CategoryDocument,
	".txt":  CategoryText,
	".md":   CategoryMarkdown,
	".csv":  CategoryData,
	".xls":  CategorySpreadsheet,
	".xlsx": CategorySpreadsheet,
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".png":  CategoryImage,
	".gif":  CategoryImage,
	".zip":  CategoryArchive,
	".rar":  CategoryArchive,
}

var categoryChecklists = map[Category][]string{
	CategoryDocument: {
		"Read and summarize the document",
		"Extract key information",
		"File in appropriate category",
		"Take any required actions",
	},
	CategoryText: {
		"Read and process the content",
		"Extract any action items",
		"Archive after processing",
	},
	CategoryMarkdown: {
		"Review markdown content",
		"Merge with existing notes if applicable",
		"Archive after processing",
	},
	CategoryData: {
		"Analyze the data",
		"Extract insights or summaries",
		"Update relevant records",
	},
	CategorySpreadsheet: {
		"Review spreadsheet contents",
		"Extract key data points",
		"Update accounting or tracking sheets",
	},
	CategoryImage: {
		"Analyze image content (OCR if needed)",
		"Extract any text or data",
		"File in appropriate category",
	},
	CategoryArchive: {
		"Extract archive contents",
		"Process each extracted file",
		"Clean up after extraction",
	},
	CategoryUnknown: {
		"Identify file type and content",
		"Determine appropriate processing",
		"Take necessary actions",
	},
}

// Categorize maps a file extension (with or without the dot, any case) to its category.
func Categorize(ext string) Category {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if c, ok := extensionCategories[ext]; ok {
		return c
	}
	return CategoryUnknown
}

// Checklist returns a copy of the suggested actions for c.
func (c Category) Checklist() []string {
	items, ok := categoryChecklists[c]
	if !ok {
		items = categoryChecklists[CategoryUnknown]
	}
	return append([]string(nil), items...)
}
