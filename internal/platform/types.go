package platform

// Course is one course as returned by the platform's member-course listing.
// URLKey is the stable identity of the course; LatestTopicID changes as new
// material is published.
type Course struct {
	Title         string `json:"title"`
	URLKey        string `json:"url_key"`
	LatestTopicID string `json:"latest_topic_id"`
}

type Video struct {
	Title   string      `json:"title"`
	YouTube VideoSource `json:"youtube"`
}

type VideoSource struct {
	VideoURL string `json:"video_url"`
}

type coursesResponse struct {
	Value []Course `json:"value"`
}

type videosResponse struct {
	Videos []Video `json:"videos"`
}
