// Package assemble merges retrieved chunks into a deduplicated
// grounding context and renders it into the user prompt sent to the
// completion backend.
package assemble

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// ChapterEntry is one merged chapter in the grounding context.
type ChapterEntry struct {
	ChapterNumber int    `json:"chapter_number"`
	ChapterName   string `json:"chapter_name"`
	Summary       string `json:"summary"`
}

// ImageEntry is one distinct image in the grounding context. The
// description is the text of the chunk that matched the query.
type ImageEntry struct {
	ChapterNumber    int    `json:"chapter_number"`
	ChapterName      string `json:"chapter_name"`
	ImageID          string `json:"image_ID"`
	ImageURL         string `json:"image_url"`
	ImageDescription string `json:"image_description"`
}

const (
	preamble = "以下是可用的参考数据:"

	outputInstruction = "根据提供的信息，按照要求的JSON格式生成输出。"
)

// MergeChapters groups content results by chapter, concatenating chunk
// texts in result order. A chunk is skipped when its text is already a
// substring of the accumulated chapter text (exact containment, not
// semantic dedup). Chapter order follows first discovery.
func MergeChapters(results []domain.SearchResult) []ChapterEntry {
	var order []int
	merged := make(map[int]*ChapterEntry)

	for _, r := range results {
		md := r.Chunk.Metadata
		entry, ok := merged[md.ChapterNumber]
		if !ok {
			entry = &ChapterEntry{
				ChapterNumber: md.ChapterNumber,
				ChapterName:   md.ChapterName,
			}
			merged[md.ChapterNumber] = entry
			order = append(order, md.ChapterNumber)
		}

		if strings.Contains(entry.Summary, r.Chunk.Text) {
			continue
		}
		entry.Summary += r.Chunk.Text
	}

	out := make([]ChapterEntry, 0, len(order))
	for _, n := range order {
		out = append(out, *merged[n])
	}
	return out
}

// MergeImages keeps one entry per distinct (chapter, image id) pair,
// in first-seen order.
func MergeImages(results []domain.SearchResult) []ImageEntry {
	type key struct {
		chapter int
		imageID string
	}
	seen := make(map[key]bool)

	var out []ImageEntry
	for _, r := range results {
		md := r.Chunk.Metadata
		k := key{md.ChapterNumber, md.ImageID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ImageEntry{
			ChapterNumber:    md.ChapterNumber,
			ChapterName:      md.ChapterName,
			ImageID:          md.ImageID,
			ImageURL:         md.ImageURL,
			ImageDescription: r.Chunk.Text,
		})
	}
	return out
}

// Assemble renders the grounding context plus the literal query into
// the user prompt. Deterministic for identical inputs.
func Assemble(content, images []domain.SearchResult, query string) (string, error) {
	imageEntries := MergeImages(images)
	chapterEntries := MergeChapters(content)

	imageJSON, err := marshalEntries(imageEntries)
	if err != nil {
		return "", fmt.Errorf("marshal image entries: %w", err)
	}
	chapterJSON, err := marshalEntries(chapterEntries)
	if err != nil {
		return "", fmt.Errorf("marshal chapter entries: %w", err)
	}

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n## 图片数据:\n")
	b.WriteString(imageJSON)
	b.WriteString("\n\n## 内容数据摘要:\n")
	b.WriteString(chapterJSON)
	b.WriteString("\n\n用户输入: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(outputInstruction)
	return b.String(), nil
}

// marshalEntries renders a JSON array, with nil slices as "[]" so the
// prompt never contains a bare "null".
func marshalEntries(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	s := string(data)
	if s == "null" {
		s = "[]"
	}
	return s, nil
}
