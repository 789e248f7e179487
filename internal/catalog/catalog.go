// Package catalog holds the seed data for the location registry.
package catalog

import (
	"fmt"
	"strings"

	"livequeue/queue-service/internal/models"
)

const (
	DefaultImageBaseURL = "https://magenta-cascaron-cdb5f6.netlify.app/catalogpics"
	perCategory         = 9
)

var categoryFolders = []struct {
	category string
	label    string
	folder   string
}{
	{models.CategoryHospital, "Hospital", "hospitals"},
	{models.CategoryHotel, "Hotel", "hotels"},
}

// Default returns the hospitals and hotels served out of the box, with image
// references rooted at baseURL.
func Default(baseURL string) []models.Location {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultImageBaseURL
	}

	locations := make([]models.Location, 0, perCategory*len(categoryFolders))
	for _, c := range categoryFolders {
		for i := 1; i <= perCategory; i++ {
			locations = append(locations, models.Location{
				LocationID: fmt.Sprintf("%s-%d", c.category, i),
				Name:       fmt.Sprintf("%s %d", c.label, i),
				Category:   c.category,
				ImageRef:   fmt.Sprintf("%s/%s/%s%d.jpg", baseURL, c.folder, c.category, i),
			})
		}
	}
	return locations
}
