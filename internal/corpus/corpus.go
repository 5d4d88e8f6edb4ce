// Package corpus loads the fixed document collections the service
// grounds queries against and splits them into indexable chunks.
package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// contentItem mirrors one entry of content.json.
type contentItem struct {
	ChapterNumber int    `json:"chapter_number"`
	ChapterName   string `json:"chapter_name"`
	ChapterText   string `json:"chapter_test"`
}

// imageItem mirrors one entry of image.json.
type imageItem struct {
	ChapterNumber    int    `json:"chapter_number"`
	ChapterName      string `json:"chapter_name"`
	ImageID          string `json:"image_ID"`
	ImageURL         string `json:"image_url"`
	ImageDescription string `json:"image_description"`
}

// LoadContent reads the chapter text collection.
func LoadContent(path string) ([]domain.Document, error) {
	var items []contentItem
	if err := readJSON(path, &items); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, domain.Document{
			Text: it.ChapterText,
			Metadata: domain.Metadata{
				Kind:          domain.KindContent,
				ChapterNumber: it.ChapterNumber,
				ChapterName:   it.ChapterName,
			},
		})
	}
	return docs, nil
}

// LoadImages reads the image description collection.
func LoadImages(path string) ([]domain.Document, error) {
	var items []imageItem
	if err := readJSON(path, &items); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, domain.Document{
			Text: it.ImageDescription,
			Metadata: domain.Metadata{
				Kind:          domain.KindImage,
				ChapterNumber: it.ChapterNumber,
				ChapterName:   it.ChapterName,
				ImageID:       it.ImageID,
				ImageURL:      it.ImageURL,
			},
		})
	}
	return docs, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read corpus %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return nil
}
