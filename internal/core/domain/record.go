package domain

// ResultRecord is the serialized form of a RecommendationResult, the shape
// persisted by batch runs and returned by the HTTP API. Metadata fields are
// pointers so a metadata gap serializes as null rather than a zero value.
type ResultRecord struct {
	ClusterID       *int               `json:"cluster_id"`
	TotalCandidates int                `json:"total_candidates"`
	Method          Method             `json:"method"`
	Recommendations []RecommendedEntry `json:"recommendations"`
}

// RecommendedEntry is one serialized recommendation.
type RecommendedEntry struct {
	SongID   string   `json:"song_id"`
	Title    *string  `json:"title"`
	Album    *string  `json:"album"`
	Year     *string  `json:"year"`
	Language *string  `json:"language"`
	Duration *float64 `json:"duration"`
	PermaURL *string  `json:"perma_url"`
	ImageURL *string  `json:"image_url"`
}

// NewResultRecord converts an engine result to its wire form.
func NewResultRecord(res RecommendationResult) ResultRecord {
	rec := ResultRecord{
		ClusterID:       res.ClusterID,
		TotalCandidates: res.TotalCandidates,
		Method:          res.Method,
		Recommendations: make([]RecommendedEntry, 0, len(res.Recommendations)),
	}
	for _, st := range res.Recommendations {
		entry := RecommendedEntry{SongID: st.TrackID}
		if st.Meta != nil {
			entry.Title = &st.Meta.Title
			entry.Album = &st.Meta.Album
			entry.Year = &st.Meta.Year
			entry.Language = &st.Meta.Language
			entry.Duration = &st.Meta.Duration
			entry.PermaURL = &st.Meta.PermaURL
			entry.ImageURL = &st.Meta.ImageURL
		}
		rec.Recommendations = append(rec.Recommendations, entry)
	}
	return rec
}
