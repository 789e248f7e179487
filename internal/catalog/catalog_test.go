package catalog

import (
	"testing"

	"livequeue/queue-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	locations := Default("")
	require.Len(t, locations, 18)

	first := locations[0]
	assert.Equal(t, "hospital-1", first.LocationID)
	assert.Equal(t, "Hospital 1", first.Name)
	assert.Equal(t, models.CategoryHospital, first.Category)
	assert.Equal(t, DefaultImageBaseURL+"/hospitals/hospital1.jpg", first.ImageRef)

	last := locations[len(locations)-1]
	assert.Equal(t, "hotel-9", last.LocationID)
	assert.Equal(t, models.CategoryHotel, last.Category)

	seen := map[string]bool{}
	for _, loc := range locations {
		assert.False(t, seen[loc.LocationID], "duplicate id %s", loc.LocationID)
		seen[loc.LocationID] = true
		assert.Zero(t, loc.CurrentToken)
		assert.Zero(t, loc.LastIssuedToken)
	}
}

func TestDefaultCatalogCustomBase(t *testing.T) {
	locations := Default("https://cdn.example.com/pics/")
	assert.Equal(t, "https://cdn.example.com/pics/hotels/hotel3.jpg", locations[11].ImageRef)
}
