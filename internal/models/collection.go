package models

import "time"

// CollectionImage is a single item of a collection: the unit of cache work.
type CollectionImage struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	Position int    `json:"position"`
}

// Collection is the authoritative membership of one image collection.
// Images are ordered by position.
type Collection struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Images    []CollectionImage `json:"images"`
	CreatedAt time.Time         `json:"created_at"`
}

// Image returns the image with the given ID, if present.
func (c Collection) Image(id string) (CollectionImage, bool) {
	for _, img := range c.Images {
		if img.ID == id {
			return img, true
		}
	}
	return CollectionImage{}, false
}

// ImageIDs returns the IDs of all images in collection order.
func (c Collection) ImageIDs() []string {
	ids := make([]string, 0, len(c.Images))
	for _, img := range c.Images {
		ids = append(ids, img.ID)
	}
	return ids
}
