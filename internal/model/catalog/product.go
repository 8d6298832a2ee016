package catalog

// Product is one immutable catalog entry. The JSON shape is the stable
// contract consumed by every client and by the products.json data file.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	ImageURL    string   `json:"image_url"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}
