package models

import "time"

type SourceURL struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

type Episode struct {
	Number  float64     `json:"number"`
	Watched bool        `json:"watched"`
	URLs    []SourceURL `json:"urls"`
}

// Title is a tracked series. SourceMap carries an entry for every known
// source name; a nil value means the title is not mapped on that source.
type Title struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Active    bool               `json:"active"`
	Episodes  []Episode          `json:"episodes"`
	SourceMap map[string]*string `json:"sourceMap"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// SourceItemID returns the identifier the title uses on the named source.
func (t Title) SourceItemID(source string) (string, bool) {
	value, ok := t.SourceMap[source]
	if !ok || value == nil || *value == "" {
		return "", false
	}
	return *value, true
}

// EpisodeIndex returns the position of the episode with the given number, or -1.
func (t Title) EpisodeIndex(number float64) int {
	for index := range t.Episodes {
		if t.Episodes[index].Number == number {
			return index
		}
	}
	return -1
}

// ResolvedEpisode is the merged result of one aggregation for one episode number.
type ResolvedEpisode struct {
	Number float64     `json:"number"`
	URLs   []SourceURL `json:"urls"`
}
