// Copyright 2025 James Ross
package storeapi

// SeoFields is the shape exposed by both the native `seo{...}` field and
// the `global.title_tag`/`global.description_tag` metafield pair.
type SeoFields struct {
	Title       string
	Description string
}

// Product is the subset of product data the generator phase reads.
type Product struct {
	ID          string
	Title       string
	Description string
	NativeSeo   SeoFields
	MetaSeo     SeoFields
}

// Article is the subset of article data the generator phase reads.
// Articles have no native seo{} field, only the metafield pair.
type Article struct {
	ID      string
	Title   string
	Body    string
	MetaSeo SeoFields
}

// Image is one product image eligible for alt-text generation.
type Image struct {
	ID        string
	ProductID string
	MediaID   string
	URL       string
	Alt       string
}

// ThrottleStatus mirrors extensions.cost.throttleStatus on every GraphQL
// response.
type ThrottleStatus struct {
	CurrentlyAvailable float64
	RestoreRate        float64
}

// WriteFields describes one WriteProductSeo/WriteArticleSeo call: which
// fields the job is configured to write, and their generated values.
type WriteFields struct {
	WriteTitle       bool
	WriteDescription bool
	Title            string
	Description      string
}
