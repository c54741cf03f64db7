package policy

import (
	"time"

	"registrywarden/internal/models"
)

// offsetTags builds the six-tag fixture shared across the policy tests,
// each tag's Created set to now+offset.
func offsetTags(now time.Time) []models.Tag {
	offsets := []struct {
		name string
		d    time.Duration
	}{
		{"first", -5 * time.Hour},
		{"second", -5 * time.Minute},
		{"third", -30 * time.Minute},
		{"fourth", -10 * time.Minute},
		{"fifth", -15 * time.Second},
		{"sixth", -50 * time.Minute},
	}
	tags := make([]models.Tag, len(offsets))
	for i, o := range offsets {
		tags[i] = models.Tag{
			Repository: "repo",
			Name:       o.name,
			Digest:     "sha256:" + o.name,
			Created:    now.Add(o.d),
			Size:       1_000_000,
		}
	}
	return tags
}

func tagNames(tags []models.Tag) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}
