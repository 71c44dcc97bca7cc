package spotify

// Image is an artwork rendition
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Artist is a Spotify artist
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
	Images     []Image  `json:"images"`
	Followers  struct {
		Total int `json:"total"`
	} `json:"followers"`
}

// ArtistRef is the short artist form embedded in albums
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album is a release
type Album struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AlbumType   string      `json:"album_type"`
	ReleaseDate string      `json:"release_date"`
	TotalTracks int         `json:"total_tracks"`
	Artists     []ArtistRef `json:"artists"`
	Images      []Image     `json:"images"`
}

// ArtistPage is one page of an artist search
type ArtistPage struct {
	Artists []Artist `json:"artists"`
	Page    int      `json:"page"`
	Size    int      `json:"size"`
	Total   int      `json:"total"`
}

type artistsEnvelope struct {
	Artists struct {
		Items  []Artist `json:"items"`
		Total  int      `json:"total"`
		Limit  int      `json:"limit"`
		Offset int      `json:"offset"`
	} `json:"artists"`
}

type albumsEnvelope struct {
	Albums struct {
		Items []Album `json:"items"`
		Total int     `json:"total"`
	} `json:"albums"`
}
